package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	apperrors "museum-guide/errors"
	"museum-guide/utils"

	"go.uber.org/zap"
)

const (
	maxSummaryRunes = 600
	maxRichness     = 10.0
)

// LinkedPage is one book page associated with an artifact.
type LinkedPage struct {
	Page    int    `json:"page"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Artifact mirrors one entry of the catalog JSON emitted by the build step.
type Artifact struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Series    string       `json:"series"`
	InfoText  string       `json:"infoText"`
	PDFTopic  string       `json:"pdfTopic"`
	PDFPages  []int        `json:"pdfPages"`
	LinkedPDF []LinkedPage `json:"linkedPdf"`
	Tags      []string     `json:"tags"`
	Aliases   []string     `json:"aliases,omitempty"`
	Richness  *float64     `json:"richness,omitempty"`
}

type catalogFile struct {
	GeneratedAt    string     `json:"generatedAt"`
	TotalArtifacts int        `json:"totalArtifacts"`
	Artifacts      []Artifact `json:"artifacts"`
}

// Record is an indexed artifact. Normalized shadow fields are computed once
// in NewCatalog and never change afterwards.
type Record struct {
	ID       string
	Name     string
	Series   string
	Tags     []string
	PDFTopic string
	Summary  string
	Aliases  []string
	Richness float64

	nameNorm    string
	seriesNorm  string
	topicNorm   string
	tagsNorm    []string
	aliasNorm   []string
	summaryNorm string
}

// Catalog is the read-only artifact index shared by every request.
type Catalog struct {
	records []Record
	byID    map[string]int
}

// LoadCatalog reads the catalog JSON at path. On any failure it returns an
// empty, usable catalog together with the error so callers can log and
// continue serving.
func LoadCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewCatalog(nil, logger), fmt.Errorf("%w: read %s: %w", apperrors.ErrCatalogLoad, path, err)
	}
	return ParseCatalog(data, logger)
}

// ParseCatalog accepts either the build step's wrapper object or a bare
// array of artifacts.
func ParseCatalog(data []byte, logger *zap.Logger) (*Catalog, error) {
	trimmed := strings.TrimSpace(string(data))
	var artifacts []Artifact
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &artifacts); err != nil {
			return NewCatalog(nil, logger), fmt.Errorf("%w: decode artifact list: %w", apperrors.ErrCatalogLoad, err)
		}
	} else {
		var file catalogFile
		if err := json.Unmarshal(data, &file); err != nil {
			return NewCatalog(nil, logger), fmt.Errorf("%w: decode catalog: %w", apperrors.ErrCatalogLoad, err)
		}
		artifacts = file.Artifacts
	}
	return NewCatalog(artifacts, logger), nil
}

// NewCatalog indexes artifacts in order. Entries without id or name, and
// duplicate ids, are skipped.
func NewCatalog(artifacts []Artifact, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		records: make([]Record, 0, len(artifacts)),
		byID:    make(map[string]int, len(artifacts)),
	}
	splitter := NewPunctuationSplitter()
	for _, a := range artifacts {
		id := strings.TrimSpace(a.ID)
		name := strings.TrimSpace(a.Name)
		if id == "" || name == "" {
			logger.Warn("Skipping catalog entry without id or name", zap.String("id", id), zap.String("name", name))
			continue
		}
		if _, dup := c.byID[id]; dup {
			logger.Warn("Skipping duplicate catalog id", zap.String("id", id))
			continue
		}
		c.byID[id] = len(c.records)
		c.records = append(c.records, newRecord(a, splitter))
	}
	logger.Info("Catalog indexed", zap.Int("records", len(c.records)), zap.Int("skipped", len(artifacts)-len(c.records)))
	return c
}

func newRecord(a Artifact, splitter SentenceSplitter) Record {
	name := strings.TrimSpace(a.Name)
	series := strings.TrimSpace(a.Series)
	if series == "" {
		series = InferSeries(name)
	}
	info := PlainText(a.InfoText)

	parts := []string{info}
	for _, page := range a.LinkedPDF {
		parts = append(parts, PlainText(page.Content))
	}
	summary := ClipSentences(splitter, joinNonEmpty(parts, "\n"), maxSummaryRunes)

	rec := Record{
		ID:       strings.TrimSpace(a.ID),
		Name:     name,
		Series:   series,
		Tags:     dedupe(a.Tags),
		PDFTopic: strings.TrimSpace(a.PDFTopic),
		Summary:  summary,
		Aliases:  deriveAliases(a, name, series),
	}
	if a.Richness != nil {
		rec.Richness = clamp(*a.Richness, 0, maxRichness)
	} else {
		rec.Richness = estimateRichness(info, len(a.LinkedPDF), len(rec.Tags), rec.PDFTopic != "")
	}

	rec.nameNorm = Normalize(rec.Name)
	rec.seriesNorm = Normalize(rec.Series)
	rec.topicNorm = Normalize(rec.PDFTopic)
	rec.tagsNorm = normalizeAll(rec.Tags)
	rec.aliasNorm = normalizeAll(rec.Aliases)
	rec.summaryNorm = Normalize(rec.Summary)
	return rec
}

// Len returns the number of indexed records.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Get returns a copy of the record with the given id.
func (c *Catalog) Get(id string) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	idx, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	rec := c.records[idx]
	rec.Tags = append([]string(nil), rec.Tags...)
	rec.Aliases = append([]string(nil), rec.Aliases...)
	return rec, true
}

// InferSeries follows the gallery naming conventions when the catalog
// omits a series.
func InferSeries(name string) string {
	switch {
	case strings.HasPrefix(name, "武梁祠"), strings.HasPrefix(name, "祥瑞图"):
		return "武梁祠系列"
	case strings.HasPrefix(name, "前石室"), strings.HasPrefix(name, "另一个前石室"), strings.HasPrefix(name, "孔门弟子"):
		return "前石室系列"
	case strings.HasPrefix(name, "后石室"), strings.HasPrefix(name, "另一个后石室"):
		return "后石室系列"
	case strings.HasPrefix(name, "左石室"):
		return "左石室系列"
	case strings.HasSuffix(name, "介绍牌"), strings.HasSuffix(name, "简介"):
		return "展厅介绍"
	default:
		return "其他石刻系列"
	}
}

var (
	parenPattern    = regexp.MustCompile(`[（(]([^）)]+)[）)]`)
	nameSplitter    = regexp.MustCompile(`[\s\-_·、，,（）()]+`)
	seriesSuffixes  = []string{"系列", "展厅"}
	minAliasRunes   = 2
	minStrippedName = 3
)

func deriveAliases(a Artifact, name, series string) []string {
	candidates := append([]string(nil), a.Aliases...)

	stem := series
	for _, suffix := range seriesSuffixes {
		stem = strings.TrimSuffix(stem, suffix)
	}
	for _, prefix := range []string{"另一个" + stem, stem} {
		if prefix == "" || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(name, prefix))
		if utils.RuneLen(rest) >= minStrippedName {
			candidates = append(candidates, rest)
		}
		break
	}

	for _, m := range parenPattern.FindAllStringSubmatch(name, -1) {
		candidates = append(candidates, m[1])
	}
	if pieces := nameSplitter.Split(name, -1); len(pieces) > 1 {
		candidates = append(candidates, pieces...)
	}
	for _, page := range a.LinkedPDF {
		candidates = append(candidates, page.Title)
	}

	out := make([]string, 0, len(candidates))
	seen := map[string]struct{}{name: {}}
	for _, alias := range candidates {
		alias = strings.TrimSpace(alias)
		if utils.RuneLen(alias) < minAliasRunes {
			continue
		}
		if _, ok := seen[alias]; ok {
			continue
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	return out
}

// estimateRichness rates how much curated material backs a record, 0..10.
func estimateRichness(info string, pages, tags int, hasTopic bool) float64 {
	r := min(4.0, float64(utils.RuneLen(info))/150.0)
	r += min(3.0, float64(pages))
	r += min(2.0, float64(tags)*0.4)
	if hasTopic {
		r++
	}
	return clamp(r, 0, maxRichness)
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := Normalize(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
