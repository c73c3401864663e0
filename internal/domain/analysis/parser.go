package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	MaxRecommendations = 7

	NoContentRationale = "LLM did not return content"

	PolicyMarker      = "POLICY_JSON:"
	ExplanationMarker = "EXPLANATION:"

	FallbackPrerequisites = "Valid AWS credentials with the analyzed policy permissions"
	FallbackImpact        = "Potential security compromise based on policy permissions"

	// Impact assessments recorded when the attack-path reply had no usable JSON.
	UnstructuredAssessment = "Unable to parse structured attack scenarios from AI response"
	RawAnalysisAssessment  = "Raw analysis provided due to parsing issues"
)

// ParseRecommendations reads bullet lines ("-" or "•") as recommendations
// until a line starting with "rationale"; every non-blank line after that is
// rationale. It never fails: with no bullets the whole reply becomes the
// rationale.
func ParseRecommendations(text string) Recommendation {
	recs := []string{}
	var rationaleLines []string
	inRecs := true

	for _, line := range nonBlankLines(text) {
		if strings.HasPrefix(strings.ToLower(line), "rationale") {
			inRecs = false
			continue
		}
		switch {
		case inRecs && (strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•")):
			recs = append(recs, strings.TrimLeft(line, "-• "))
		case !inRecs:
			rationaleLines = append(rationaleLines, line)
		}
	}

	if len(recs) == 0 {
		r := strings.TrimSpace(text)
		if r == "" {
			r = NoContentRationale
		}
		return Recommendation{Recommendations: recs, Rationale: &r}
	}

	if len(recs) > MaxRecommendations {
		recs = recs[:MaxRecommendations]
	}
	out := Recommendation{Recommendations: recs}
	if len(rationaleLines) > 0 {
		r := strings.Join(rationaleLines, " ")
		out.Rationale = &r
	}
	return out
}

// ParseRecommendedPolicy extracts the policy document and explanation from a
// rewrite reply. The document is taken from the object right after
// POLICY_JSON:, else from the first object anywhere that mentions "Version".
// A reply with neither yields ErrMalformedModelOutput.
func ParseRecommendedPolicy(text string) (RecommendedPolicy, error) {
	doc, err := policyDocument(text)
	if err != nil {
		return RecommendedPolicy{}, err
	}
	out := RecommendedPolicy{PolicyDocument: doc}
	if i := strings.Index(text, ExplanationMarker); i >= 0 {
		e := strings.TrimSpace(text[i+len(ExplanationMarker):])
		out.Explanation = &e
	}
	return out, nil
}

func policyDocument(text string) (map[string]any, error) {
	if raw, ok := markedObject(text); ok {
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON after %s: %v", ErrMalformedModelOutput, PolicyMarker, err)
		}
		return doc, nil
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := balancedObject(text, i)
		if !ok {
			continue
		}
		candidate := text[i:end]
		if !strings.Contains(candidate, `"Version"`) {
			continue
		}
		var doc map[string]any
		if json.Unmarshal([]byte(candidate), &doc) == nil {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: no policy JSON found in response", ErrMalformedModelOutput)
}

// markedObject returns the first balanced object that directly follows a
// POLICY_JSON: marker (optionally inside a code fence) and closes before the
// next EXPLANATION: marker.
func markedObject(text string) (string, bool) {
	for off := 0; ; {
		i := strings.Index(text[off:], PolicyMarker)
		if i < 0 {
			return "", false
		}
		off += i + len(PolicyMarker)

		section := text[off:]
		if e := strings.Index(section, ExplanationMarker); e >= 0 {
			section = section[:e]
		}
		section = stripFence(section)
		if !strings.HasPrefix(section, "{") {
			continue
		}
		if end, ok := balancedObject(section, 0); ok {
			return section[:end], true
		}
	}
}

func stripFence(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
		s = strings.TrimLeft(s, " \t\r\n")
	}
	return s
}

// ParseAttackPath decodes the reply's JSON object carrying "attack_scenarios".
// The first balanced object holding that key wins; otherwise the span from
// the first "{" to the last "}" is tried. It never fails: unusable replies
// become a single MEDIUM scenario holding the raw text.
func ParseAttackPath(text string) AttackPath {
	region, ok := attackObject(text)
	if !ok {
		start := strings.IndexByte(text, '{')
		end := strings.LastIndexByte(text, '}')
		if start < 0 || end < start || !strings.Contains(text[start:end+1], `"attack_scenarios"`) {
			return fallbackAttackPath("Attack Analysis", text, UnstructuredAssessment)
		}
		region = text[start : end+1]
	}

	var doc AttackPath
	if err := json.Unmarshal([]byte(region), &doc); err != nil {
		return fallbackAttackPath("Security Analysis", text, RawAnalysisAssessment)
	}
	if doc.AttackScenarios == nil {
		doc.AttackScenarios = []Scenario{}
	}
	for i := range doc.AttackScenarios {
		sc := &doc.AttackScenarios[i]
		sc.Severity = NormalizeSeverity(string(sc.Severity))
		if sc.Steps == nil {
			sc.Steps = []Step{}
		}
	}
	return doc
}

func attackObject(text string) (string, bool) {
	for i := strings.IndexByte(text, '{'); i >= 0; {
		if end, ok := balancedObject(text, i); ok {
			obj := text[i:end]
			if strings.Contains(obj, `"attack_scenarios"`) && json.Valid([]byte(obj)) {
				return obj, true
			}
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return "", false
}

func fallbackAttackPath(title, text, assessment string) AttackPath {
	return AttackPath{
		AttackScenarios: []Scenario{{
			Title:         title,
			Description:   text,
			Prerequisites: FallbackPrerequisites,
			Steps:         []Step{},
			Impact:        FallbackImpact,
			Severity:      SeverityMedium,
		}},
		ImpactAssessment: &assessment,
	}
}

// balancedObject returns the index just past the object opening at s[start],
// skipping braces inside string literals. ok is false if it never closes.
func balancedObject(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func nonBlankLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
