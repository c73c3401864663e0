package prompt

import (
	"encoding/json"
	"strings"

	"github.com/bryanwahyu/permeo/internal/domain/analysis"
)

const recommendationSystem = `You are a senior cloud security engineer. Given AWS IAM policy statements and detected risky flags, produce specific remediation recommendations. Favor least-privilege, resource scoping, and conditional constraints. Return clear, concise bullet recommendations. Include a short rationale paragraph.`

const recommendationFormat = `Output format:
- recommendations: 3-7 bullets, each line starting with "- "
- rationale: a line starting with "Rationale:" followed by 1 short paragraph`

const rewriteSystem = `You are a senior cloud security engineer. Given an AWS IAM policy with detected security issues, generate an improved policy document that addresses the security concerns while maintaining the necessary functionality. Return a valid JSON policy document and a brief explanation of changes made. Focus on least-privilege principles, resource scoping, and conditional constraints. The policy should be production-ready and follow AWS IAM best practices.`

const rewriteFormat = `Output format:
` + analysis.PolicyMarker + `
{
  "Version": "2012-10-17",
  "Statement": [...]
}

` + analysis.ExplanationMarker + `
Brief explanation of changes made and security improvements.`

const attackSystem = `You are a senior cloud security penetration tester. Given an AWS IAM policy with detected security issues, generate realistic attack scenarios that demonstrate how a malicious actor could exploit these permissions. For each scenario, provide:
1. Attack scenario description
2. Specific AWS CLI commands that would be used
3. Potential impact of the attack
4. Prerequisites for the attack

Focus on practical, real-world attack vectors that demonstrate the business impact. Be specific about the AWS CLI commands and explain the attack chain step by step. Consider privilege escalation, data exfiltration, resource manipulation, and lateral movement.`

const attackFormat = `Output format (JSON only, no prose outside the object):
{
  "attack_scenarios": [
    {
      "title": "Attack scenario name",
      "description": "Detailed description of the attack",
      "prerequisites": "What the attacker needs",
      "steps": [
        {
          "step": 1,
          "description": "Step description",
          "aws_cli_command": "aws command here",
          "explanation": "Why this command works"
        }
      ],
      "impact": "Business impact description",
      "severity": "HIGH|MEDIUM|LOW"
    }
  ],
  "impact_assessment": "Overall security impact summary"
}`

type statementsOnly struct {
	PolicyName string           `json:"policy_name"`
	PolicyID   string           `json:"policy_id"`
	Statements []map[string]any `json:"statements"`
}

type recommendationContext struct {
	PolicyName          string           `json:"policy_name"`
	PolicyID            string           `json:"policy_id"`
	Statements          []map[string]any `json:"statements"`
	DetectedFlags       []any            `json:"detected_flags"`
	OrganizationContext string           `json:"organization_context"`
}

type rewriteContext struct {
	OriginalPolicy      statementsOnly `json:"original_policy"`
	DetectedIssues      []any          `json:"detected_security_issues"`
	OrganizationContext string         `json:"organization_context"`
}

type attackContext struct {
	PolicyContext       statementsOnly `json:"policy_context"`
	DetectedIssues      []any          `json:"detected_security_issues"`
	OrganizationContext string         `json:"organization_context"`
}

// Recommendations builds the prompt for bullet remediation advice.
func Recommendations(pc analysis.PolicyContext) (string, error) {
	return build(recommendationSystem, "Context:", recommendationContext{
		PolicyName:          pc.PolicyName,
		PolicyID:            pc.PolicyID,
		Statements:          statements(pc),
		DetectedFlags:       flags(pc),
		OrganizationContext: pc.OrganizationContext,
	}, recommendationFormat)
}

// RecommendedPolicy builds the prompt for a rewritten policy document.
func RecommendedPolicy(pc analysis.PolicyContext) (string, error) {
	return build(rewriteSystem, "Original Policy Context:", rewriteContext{
		OriginalPolicy:      statementsOnly{PolicyName: pc.PolicyName, PolicyID: pc.PolicyID, Statements: statements(pc)},
		DetectedIssues:      flags(pc),
		OrganizationContext: pc.OrganizationContext,
	}, rewriteFormat)
}

// AttackPath builds the prompt for attack scenarios.
func AttackPath(pc analysis.PolicyContext) (string, error) {
	return build(attackSystem, "Policy Context:", attackContext{
		PolicyContext:       statementsOnly{PolicyName: pc.PolicyName, PolicyID: pc.PolicyID, Statements: statements(pc)},
		DetectedIssues:      flags(pc),
		OrganizationContext: pc.OrganizationContext,
	}, attackFormat)
}

// build joins the sections with blank lines. The context is indented JSON;
// map keys are sorted by encoding/json so identical input gives an identical prompt.
func build(system, heading string, ctx any, format string) (string, error) {
	b, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "", err
	}
	return strings.Join([]string{system, heading + "\n" + string(b), format}, "\n\n"), nil
}

func statements(pc analysis.PolicyContext) []map[string]any {
	if pc.Statements == nil {
		return []map[string]any{}
	}
	return pc.Statements
}

func flags(pc analysis.PolicyContext) []any {
	if pc.DetectedFlags == nil {
		return []any{}
	}
	return pc.DetectedFlags
}
