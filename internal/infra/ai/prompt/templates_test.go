package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/permeo/internal/domain/analysis"
)

func samplePolicy() analysis.PolicyContext {
	return analysis.PolicyContext{
		PolicyName: "S3Full",
		PolicyID:   "ANPA1",
		Statements: []map[string]any{
			{"Effect": "Allow", "Action": "s3:*", "Resource": "*"},
		},
		DetectedFlags:       []any{map[string]any{"code": "WILDCARD_ACTION", "severity": "high"}},
		OrganizationContext: "fintech",
	}
}

func TestPromptsAreDeterministic(t *testing.T) {
	for name, fn := range map[string]func(analysis.PolicyContext) (string, error){
		"recommendations": Recommendations,
		"rewrite":         RecommendedPolicy,
		"attack":          AttackPath,
	} {
		t.Run(name, func(t *testing.T) {
			a, err := fn(samplePolicy())
			require.NoError(t, err)
			b, err := fn(samplePolicy())
			require.NoError(t, err)
			assert.Equal(t, a, b)
			assert.Contains(t, a, `"fintech"`)
			assert.Contains(t, a, `"s3:*"`)
		})
	}
}

func TestPromptContextShapes(t *testing.T) {
	rec, err := Recommendations(samplePolicy())
	require.NoError(t, err)
	assert.Contains(t, rec, `"detected_flags"`)
	assert.Contains(t, rec, "Rationale:")

	rw, err := RecommendedPolicy(samplePolicy())
	require.NoError(t, err)
	assert.Contains(t, rw, `"original_policy"`)
	assert.Contains(t, rw, `"detected_security_issues"`)
	assert.Contains(t, rw, analysis.PolicyMarker)
	assert.Contains(t, rw, analysis.ExplanationMarker)

	ap, err := AttackPath(samplePolicy())
	require.NoError(t, err)
	assert.Contains(t, ap, `"policy_context"`)
	assert.Contains(t, ap, `"attack_scenarios"`)
	assert.Contains(t, ap, `"aws_cli_command"`)
}

func TestPromptEmptyCollections(t *testing.T) {
	out, err := Recommendations(analysis.PolicyContext{PolicyName: "p", PolicyID: "id"})
	require.NoError(t, err)
	assert.Contains(t, out, `"statements": []`)
	assert.Contains(t, out, `"detected_flags": []`)
	assert.NotContains(t, out, "null")
}
