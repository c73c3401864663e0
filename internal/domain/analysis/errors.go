package analysis

import "errors"

var (
	// ErrMalformedModelOutput is returned when a policy rewrite carries no usable JSON policy.
	ErrMalformedModelOutput = errors.New("malformed model output")

	// ErrNotFound means no record is stored for the requested key.
	ErrNotFound = errors.New("analysis not found")

	// ErrFeatureDisabled is returned by every LLM-backed operation while the feature flag is off.
	ErrFeatureDisabled = errors.New("llm features are disabled by configuration")

	ErrInvalidInput = errors.New("invalid input")
)
