package guide

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// decodeJSONReply extracts the first JSON object from a model reply,
// tolerating code fences and surrounding prose.
func decodeJSONReply(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in model reply")
	}
	return json.Unmarshal([]byte(reply[start:end+1]), v)
}

// flexScore accepts a score as a number or numeric string.
type flexScore struct {
	Value float64
	Set   bool
}

func (f *flexScore) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	f.Value, f.Set = v, true
	return nil
}

func clampScore(v float64) float64 {
	return math.Round(math.Max(0, math.Min(100, v)))
}
