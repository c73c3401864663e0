package ai

import "errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrProviderUnavailable covers every other provider-side failure: missing
// credentials, network errors, timeouts, rejected requests.
var ErrProviderUnavailable = errors.New("ai provider unavailable")
