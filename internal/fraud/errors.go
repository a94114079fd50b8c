package fraud

import "errors"

// Error taxonomy of the decision path. Validation failures are reported as
// validation.ValidationErrors; guard short-circuits are outcomes, not errors.
var (
	ErrModelUnavailable = errors.New("fraud: risk model unavailable")
	ErrLatencyExceeded  = errors.New("fraud: latency budget exceeded")
	ErrInternal         = errors.New("fraud: internal error")
)
