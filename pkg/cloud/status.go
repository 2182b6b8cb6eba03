package cloud

import (
	"fmt"

	apperrors "github.com/hybridcore/inference-core/internal/errors"
)

// ClassifyStatus maps an upstream HTTP status code to the taxonomy
// isRetryableAppError understands (spec.md §4.E/§7): 429 becomes
// rate_limited, 500/502/503/504 become service_unavailable (so scenario S6's
// repeated 503 is actually retried instead of surfacing as an unclassified
// connection failure), and any other non-2xx becomes a generic api_error.
// Provider adapters call this once they have a concrete status code off the
// SDK's own error type; a status of 0 means no HTTP response was ever
// received (a dial/timeout failure), which callers should classify as
// connection_failed instead of calling this function.
func ClassifyStatus(statusCode int, body string) *apperrors.AppError {
	switch {
	case statusCode == 429:
		return apperrors.NewRateLimited(retryAfterUnknown{})
	case statusCode == 500 || statusCode == 502 || statusCode == 503 || statusCode == 504:
		return apperrors.New(apperrors.ErrorTypeServiceUnavail, fmt.Sprintf("provider returned status %d", statusCode)).WithDetails(body)
	default:
		return apperrors.NewAPIError(statusCode, body)
	}
}

// retryAfterUnknown satisfies fmt.Stringer for NewRateLimited when the
// upstream response carried no Retry-After header to report.
type retryAfterUnknown struct{}

func (retryAfterUnknown) String() string { return "unknown" }
