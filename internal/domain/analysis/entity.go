package analysis

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// PolicyContext is what the caller knows about one policy when asking for an
// analysis. It is read-only for the duration of a generation call.
type PolicyContext struct {
	PolicyName          string           `json:"policy_name"`
	PolicyID            string           `json:"policy_id"`
	Statements          []map[string]any `json:"statements"`
	DetectedFlags       []any            `json:"detected_flags"` // free-form, as produced by the flag detector
	OrganizationContext string           `json:"organization_context"`
}

// Key identifies the single stored record of each kind for an upload/policy pair.
type Key struct {
	UploadID string `json:"upload_id"`
	PolicyID string `json:"policy_id"`
}

// Stamps are assigned by the store. UpdatedAt stays nil until the first overwrite.
type Stamps struct {
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// Stored reports whether the record went through the store.
func (s Stamps) Stored() bool { return s.CreatedAt != nil }

// Recommendation is the parsed output of the recommendation prompt.
type Recommendation struct {
	Recommendations []string `json:"recommendations"`
	Rationale       *string  `json:"rationale"`
}

type RecommendationRecord struct {
	Key
	PolicyName string `json:"policy_name"`
	Recommendation
	Stamps
}

// RecommendedPolicy is a rewritten policy document plus the model's explanation.
type RecommendedPolicy struct {
	PolicyDocument map[string]any `json:"policy_document"`
	Explanation    *string        `json:"explanation"`
}

type RecommendedPolicyRecord struct {
	Key
	PolicyName string `json:"policy_name"`
	RecommendedPolicy
	Stamps
}

// Severity enum
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// UnmarshalJSON accepts any casing; anything outside the enum becomes MEDIUM.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = NormalizeSeverity(raw)
	return nil
}

func NormalizeSeverity(raw string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(raw))) {
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Step is one command in an attack chain.
type Step struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
	CLICommand  string `json:"aws_cli_command"`
	Explanation string `json:"explanation"`
}

type Scenario struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Prerequisites string   `json:"prerequisites"`
	Steps         []Step   `json:"steps"`
	Impact        string   `json:"impact"`
	Severity      Severity `json:"severity"`
}

// AttackPath is the parsed output of the attack-path prompt.
type AttackPath struct {
	AttackScenarios  []Scenario `json:"attack_scenarios"`
	ImpactAssessment *string    `json:"impact_assessment"`
}

type AttackPathRecord struct {
	Key
	PolicyName string `json:"policy_name"`
	AttackPath
	Stamps
}

// Model replies are loose about field types: "step" arrives as "1",
// "prerequisites" as a list. Decoding coerces instead of failing so one odd
// field does not throw away the whole structured reply.

func (s *Step) UnmarshalJSON(b []byte) error {
	var raw struct {
		Step        any `json:"step"`
		Description any `json:"description"`
		CLICommand  any `json:"aws_cli_command"`
		Explanation any `json:"explanation"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Step{
		Step:        looseInt(raw.Step),
		Description: looseText(raw.Description),
		CLICommand:  looseText(raw.CLICommand),
		Explanation: looseText(raw.Explanation),
	}
	return nil
}

func (sc *Scenario) UnmarshalJSON(b []byte) error {
	var raw struct {
		Title         any             `json:"title"`
		Description   any             `json:"description"`
		Prerequisites any             `json:"prerequisites"`
		Steps         json.RawMessage `json:"steps"`
		Impact        any             `json:"impact"`
		Severity      any             `json:"severity"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*sc = Scenario{
		Title:         looseText(raw.Title),
		Description:   looseText(raw.Description),
		Prerequisites: looseText(raw.Prerequisites),
		Steps:         looseSteps(raw.Steps),
		Impact:        looseText(raw.Impact),
		Severity:      NormalizeSeverity(looseText(raw.Severity)),
	}
	return nil
}

func (ap *AttackPath) UnmarshalJSON(b []byte) error {
	var raw struct {
		AttackScenarios  json.RawMessage `json:"attack_scenarios"`
		ImpactAssessment any             `json:"impact_assessment"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out AttackPath
	if len(raw.AttackScenarios) > 0 && string(raw.AttackScenarios) != "null" {
		if err := json.Unmarshal(raw.AttackScenarios, &out.AttackScenarios); err != nil {
			return err
		}
	}
	if raw.ImpactAssessment != nil {
		a := looseText(raw.ImpactAssessment)
		out.ImpactAssessment = &a
	}
	*ap = out
	return nil
}

// looseSteps keeps the steps that decode and drops entries that are not objects.
func looseSteps(b json.RawMessage) []Step {
	steps := []Step{}
	var items []json.RawMessage
	if json.Unmarshal(b, &items) != nil {
		return steps
	}
	for _, it := range items {
		var st Step
		if json.Unmarshal(it, &st) == nil {
			steps = append(steps, st)
		}
	}
	return steps
}

func looseText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if p := strings.TrimSpace(looseText(e)); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, "; ")
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func looseInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
