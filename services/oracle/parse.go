package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// payload tolerates the spellings models actually return.
type payload struct {
	Score              any    `json:"score"`
	Labels             []any  `json:"labels"`
	CategoryMatch      *bool  `json:"categoryMatch"`
	CategoryMatchSnake *bool  `json:"category_match"`
	Feedback           string `json:"feedback"`
}

// extractJSON pulls the first JSON object out of model text that may be
// wrapped in code fences or prose.
func extractJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)

	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}

	// decode the first complete object; text after it may contain braces
	for start := strings.IndexByte(s, '{'); start >= 0; {
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[start:])).Decode(&raw); err == nil {
			return string(raw), true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// parseAnalysis decodes model text into a normalized Analysis.
func parseAnalysis(text string) (*Analysis, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, fail(KindParse, "no json object in response")
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fail(KindParse, "decode payload: %v", err)
	}

	score, err := normalizeScore(p.Score)
	if err != nil {
		return nil, fail(KindParse, "%v", err)
	}

	a := &Analysis{
		Score:    score,
		Labels:   normalizeLabels(p.Labels),
		Feedback: strings.TrimSpace(p.Feedback),
		Raw:      text,
	}
	switch {
	case p.CategoryMatch != nil:
		a.CategoryMatch = *p.CategoryMatch
	case p.CategoryMatchSnake != nil:
		a.CategoryMatch = *p.CategoryMatchSnake
	}

	return a, nil
}

func normalizeScore(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(t, "%")), 64)
		if err != nil {
			return 0, fmt.Errorf("score %q is not a number", t)
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("score missing")
	default:
		return 0, fmt.Errorf("score has unexpected type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("score is not finite")
	}

	score := int(math.Round(f))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

func normalizeLabels(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxLabels {
			break
		}
	}
	return out
}
