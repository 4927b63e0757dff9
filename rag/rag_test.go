package rag

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "museum-guide/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func loadFixture(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := LoadCatalog(filepath.Join("testdata", "artifacts.json"), zap.NewNop())
	require.NoError(t, err)
	return catalog
}

func scenarioCatalog() *Catalog {
	return NewCatalog([]Artifact{
		{ID: "artifact-001", Name: "车马出行图", Series: "前石室"},
		{ID: "artifact-002", Name: "孔门弟子", Series: "后石室"},
	}, zap.NewNop())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "punctuation_to_space", in: "武梁祠，西壁！", want: "武梁祠 西壁"},
		{name: "full_width_ascii", in: "ＡＢＣ　１２３", want: "abc 123"},
		{name: "collapse_whitespace", in: "  a \n\t b  ", want: "a b"},
		{name: "brackets_and_symbols", in: "【展品卡片：artifact-001|理由】", want: "展品卡片 artifact 001 理由"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("车马出行图 2024 的 the Wu Liang")
	assert.Contains(t, tokens, "车马")
	assert.Contains(t, tokens, "车马出行")
	assert.Contains(t, tokens, "出行图")
	assert.Contains(t, tokens, "wu")
	assert.Contains(t, tokens, "liang")
	assert.NotContains(t, tokens, "2024", "numerals are dropped")
	assert.NotContains(t, tokens, "的", "single runes are dropped")
	assert.NotContains(t, tokens, "the", "stopwords are dropped")
	assert.Contains(t, tokens, "车马出行图", "whole words are kept")
}

func TestTokenize_CapAndUnique(t *testing.T) {
	long := "武梁祠画像石刻内容丰富题材广泛包括历史故事神话传说祥瑞图案以及车马出行宴饮庖厨等生活场景"
	tokens := Tokenize(long + " " + long)
	assert.LessOrEqual(t, len(tokens), maxTokens)
	seen := map[string]bool{}
	for _, tok := range tokens {
		assert.False(t, seen[tok], "duplicate token %q", tok)
		seen[tok] = true
	}
}

func TestBuildPhrases(t *testing.T) {
	raw := `请介绍“车马出行图”的细节`
	phrases := BuildPhrases(raw, Tokenize(raw))
	assert.Contains(t, phrases, "车马出行图", "quoted fragment kept")
	assert.Contains(t, phrases, Normalize(raw), "full normalized text kept")
	for _, p := range phrases {
		assert.GreaterOrEqual(t, len([]rune(p)), minPhraseRunes)
	}
}

func TestPunctuationSplitter(t *testing.T) {
	s := NewPunctuationSplitter()
	got := s.Split("画面刻车骑队列。前有导骑！后有从车？版本 3.5 说明.")
	assert.Equal(t, []string{"画面刻车骑队列。", "前有导骑！", "后有从车？", "版本 3.5 说明."}, got)
	assert.Nil(t, s.Split("   "))
}

func TestClipSentences(t *testing.T) {
	s := NewPunctuationSplitter()
	assert.Equal(t, "一二三。", ClipSentences(s, "一二三。四五六。", 5))
	assert.Equal(t, "一二", ClipSentences(s, "一二三四五六。", 2))
	assert.Equal(t, "Hello. World!", ClipSentences(s, "Hello. World! Goodbye now.", 14))
	assert.Equal(t, "Hello.", ClipSentences(s, "Hello. World! Goodbye now.", 12))
	assert.Equal(t, "甲。Hi.", ClipSentences(s, "甲。Hi. 乙。", 6))
}

func TestPlainText(t *testing.T) {
	got := PlainText("### 标题\n\n正文**加粗**与`代码`。\n\n- 条目一\n- 条目二")
	assert.Equal(t, "标题\n正文加粗与代码。\n条目一\n条目二", got)
	assert.Equal(t, "", PlainText("  "))
}

func TestLoadCatalog(t *testing.T) {
	catalog := loadFixture(t)
	assert.Equal(t, 4, catalog.Len(), "entry without id is skipped")

	rec, ok := catalog.Get("artifact-001")
	require.True(t, ok)
	assert.Equal(t, []string{"前石室", "车马", "出行"}, rec.Tags, "tags dedupe by value")
	assert.Contains(t, rec.Summary, "车骑队列")
	assert.NotContains(t, rec.Summary, "**")
	assert.Contains(t, rec.Aliases, "前石室车马")
	assert.Greater(t, rec.Richness, 0.0)

	west, ok := catalog.Get("artifact-003")
	require.True(t, ok)
	assert.Equal(t, "武梁祠系列", west.Series, "series inferred from name")
	assert.Contains(t, west.Aliases, "局部")
}

func TestLoadCatalog_MissingFileYieldsEmptyCatalog(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.json"), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCatalogLoad)
	require.NotNil(t, catalog)
	assert.Equal(t, 0, catalog.Len())
}

func TestParseCatalog_BareArrayAndGarbage(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`[{"id":"a","name":"甲"}]`), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	catalog, err = LoadCatalog(path, nil)
	assert.ErrorIs(t, err, apperrors.ErrCatalogLoad)
	assert.Equal(t, 0, catalog.Len())
}

func TestScore_Properties(t *testing.T) {
	scorer := NewScorer(loadFixture(t), DefaultWeights)
	queries := []string{"", "车马", "西王母在哪里", "桥", "completely unrelated words", "车马出行图是哪一石"}
	for _, q := range queries {
		for _, limit := range []int{0, 1, 2, 3, 10} {
			got := scorer.Score(q, "", limit)
			assert.LessOrEqual(t, len(got), max(3, limit))
			ids := map[string]bool{}
			for i, c := range got {
				assert.False(t, ids[c.ID], "duplicate id %s", c.ID)
				ids[c.ID] = true
				if i > 0 {
					assert.GreaterOrEqual(t, got[i-1].RankScore, c.RankScore)
				}
				assert.LessOrEqual(t, len(c.Tags), maxCandidateTags)
			}
		}
	}
}

func TestScore_NameBeatsOtherRecord(t *testing.T) {
	scorer := NewScorer(scenarioCatalog(), DefaultWeights)
	got := scorer.Score("车马出行图是哪一石", "", 5)
	require.Len(t, got, 2)
	assert.Equal(t, "artifact-001", got[0].ID)
	assert.Greater(t, got[0].RankScore, got[1].RankScore)
}

func TestScore_PreferredIsMonotonic(t *testing.T) {
	scorer := NewScorer(loadFixture(t), DefaultWeights)
	for _, q := range []string{"", "车马", "孔子", "西王母"} {
		for _, id := range []string{"artifact-001", "artifact-002", "artifact-003", "artifact-004"} {
			without, ok := scoreOf(scorer, id, q, "")
			require.True(t, ok)
			with, _ := scoreOf(scorer, id, q, id)
			assert.GreaterOrEqual(t, with, without, "query %q id %s", q, id)
		}
	}
}

func TestScore_StructuredHitBeatsSummaryOnlyHit(t *testing.T) {
	catalog := NewCatalog([]Artifact{
		{ID: "prose", Name: "西壁画像", InfoText: "其中提到车马过桥"},
		{ID: "tagged", Name: "桥梁画像", Tags: []string{"车马"}},
	}, nil)
	got := NewScorer(catalog, DefaultWeights).Score("车马", "", 3)
	require.Len(t, got, 2)
	assert.Equal(t, "tagged", got[0].ID)
}

func TestScore_TiesKeepCatalogOrder(t *testing.T) {
	catalog := NewCatalog([]Artifact{
		{ID: "a", Name: "甲石"},
		{ID: "b", Name: "乙石"},
		{ID: "c", Name: "丙石"},
	}, nil)
	got := NewScorer(catalog, DefaultWeights).Score("无关", "", 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestDetectAmbiguity(t *testing.T) {
	candidates := []Candidate{
		{ID: "artifact-001", Name: "车马出行图"},
		{ID: "artifact-004", Name: "车马过桥图"},
		{ID: "artifact-002", Name: "孔门弟子"},
	}
	hint := DetectAmbiguity("车马是哪一件？", candidates)
	assert.Contains(t, hint, "「车马」")
	assert.Contains(t, hint, "artifact-001")
	assert.Contains(t, hint, "artifact-004")
	assert.NotContains(t, hint, "artifact-002")

	assert.Empty(t, DetectAmbiguity("孔门弟子", candidates))
	assert.Empty(t, DetectAmbiguity("车马", candidates[:1]))
}

func TestResolve_EmptyCatalog(t *testing.T) {
	g := NewGrounder(NewScorer(NewCatalog(nil, nil), DefaultWeights), 10, 6)

	ctx := g.Resolve(GroundingInput{Question: "车马", ArtifactID: "artifact-007", Scope: ScopeArtifact})
	assert.Empty(t, ctx.Candidates)
	assert.Empty(t, ctx.AllowedArtifactIDs)
	assert.Equal(t, "artifact-007", ctx.PrimaryArtifactID)

	ctx = g.Resolve(GroundingInput{Question: "车马"})
	assert.Equal(t, "", ctx.PrimaryArtifactID)
}

func TestResolve_AllowListMatchesCandidates(t *testing.T) {
	g := NewGrounder(NewScorer(loadFixture(t), DefaultWeights), 10, 3)
	ctx := g.Resolve(GroundingInput{
		Question: "这辆车去哪里",
		Scope:    ScopeMuseum,
		History:  []Turn{{Role: "user", Content: "车马出行图"}},
	})
	require.Len(t, ctx.Candidates, 3)
	require.Len(t, ctx.AllowedArtifactIDs, 3)
	for _, c := range ctx.Candidates {
		assert.True(t, ctx.Allows(c.ID))
	}
	assert.Equal(t, ctx.Candidates[0].ID, ctx.PrimaryArtifactID)
	assert.Equal(t, ctx.Candidates[0].RankScore, ctx.PrimaryArtifactScore)
	assert.Contains(t, ctx.CandidateRefs, "- artifact-001｜车马出行图｜前石室｜车马出行")
}

func TestResolve_FillsArtifactNameFromCatalog(t *testing.T) {
	g := NewGrounder(NewScorer(loadFixture(t), DefaultWeights), 10, 3)
	byID := g.Resolve(GroundingInput{Question: "它多大", ArtifactID: "artifact-001", Scope: ScopeArtifact})
	byName := g.Resolve(GroundingInput{
		Question:     "它多大",
		ArtifactID:   "artifact-001",
		ArtifactName: "车马出行图",
		Scope:        ScopeArtifact,
	})
	assert.Equal(t, byName.Candidates, byID.Candidates)
	assert.Equal(t, "artifact-001", byID.PrimaryArtifactID)
}

func TestResolve_ArtifactScopeRequestsMore(t *testing.T) {
	g := NewGrounder(NewScorer(loadFixture(t), DefaultWeights), 4, 3)
	assert.Len(t, g.Resolve(GroundingInput{Question: "x", Scope: ScopeArtifact}).Candidates, 4)
	assert.Len(t, g.Resolve(GroundingInput{Question: "x", Scope: ScopeMuseum}).Candidates, 3)
}

func TestBuildQuery_HistoryThenQuestionThenName(t *testing.T) {
	q := BuildQuery(GroundingInput{
		Question:     "它多大",
		ArtifactName: "车马出行图",
		History: []Turn{
			{Role: "user", Content: "太早"},
			{Role: "user", Content: "最早"},
			{Role: "assistant", Content: ""},
			{Role: "user", Content: "其次"},
			{Role: "assistant", Content: "再次"},
			{Role: "user", Content: "最新"},
		},
	})
	assert.Equal(t, "最早\n其次\n再次\n最新\n它多大\n车马出行图", q)
}

func TestGroundingQuery_LongHistoryKeepsQuestionTokens(t *testing.T) {
	long := "甲乙丙丁戊己庚辛壬癸子丑寅卯辰巳午未申酉戌亥金木水火土日月星"
	in := GroundingInput{
		Question:     "车马出行",
		ArtifactName: "孔门弟子",
		History:      []Turn{{Role: "user", Content: long}},
	}

	q := GroundingQuery(in)
	assert.LessOrEqual(t, len(q.Tokens), maxTokens)
	assert.Contains(t, q.Tokens, "车马")
	assert.Contains(t, q.Tokens, "孔门")
	assert.NotContains(t, NewQuery(BuildQuery(in)).Tokens, "车马", "plain concatenation hits the cap first")
}

func TestParseScope(t *testing.T) {
	assert.Equal(t, ScopeArtifact, ParseScope(" Artifact "))
	assert.Equal(t, ScopeMuseum, ParseScope("museum"))
	assert.Equal(t, ScopeMuseum, ParseScope(""))
}

func scoreOf(s *Scorer, id, queryText, preferredID string) (float64, bool) {
	idx, ok := s.catalog.byID[id]
	if !ok {
		return 0, false
	}
	return scoreRecord(&s.catalog.records[idx], NewQuery(queryText), preferredID, s.weights), true
}
