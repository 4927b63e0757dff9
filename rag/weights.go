package rag

// FieldWeights holds one bonus per record field. Name, topic, tag, alias
// and summary are tiered in that order; series sits low because many
// records share one.
type FieldWeights struct {
	Name    float64
	Series  float64
	Topic   float64
	Tag     float64
	Alias   float64
	Summary float64
}

// Weights is the ranking table used by Scorer. Magnitudes are tuning
// knobs; the ordering they produce (structured hits dominate prose hits)
// is what matters.
type Weights struct {
	// Richness multiplies the record's richness as its starting score.
	Richness float64
	// Preferred is added when the record is the caller's declared artifact.
	Preferred float64

	Phrase FieldWeights
	Token  FieldWeights
	// SummaryTokenPerRune caps a token's summary bonus at runes*this.
	SummaryTokenPerRune float64

	// WholeQueryPerRune / WholeQueryMax reward the entire query occurring
	// in the summary but not in the name.
	WholeQueryPerRune float64
	WholeQueryMax     float64

	// SummaryOnlyPenalty applies when a record hit only in prose.
	SummaryOnlyPenalty float64
	// Convergent2 and Convergent4 reward 2+ and 4+ structured hits.
	Convergent2 float64
	Convergent4 float64
}

// DefaultWeights is the production table.
var DefaultWeights = Weights{
	Richness:  0.6,
	Preferred: 80,
	Phrase: FieldWeights{
		Name:    40,
		Series:  12,
		Topic:   30,
		Tag:     24,
		Alias:   20,
		Summary: 8,
	},
	Token: FieldWeights{
		Name:    9,
		Series:  2,
		Topic:   6,
		Tag:     5,
		Alias:   4,
		Summary: 2,
	},
	SummaryTokenPerRune: 0.5,
	WholeQueryPerRune:   1,
	WholeQueryMax:       10,
	SummaryOnlyPenalty:  12,
	Convergent2:         6,
	Convergent4:         10,
}
