package probe

import "github.com/apiwatch/apiwatch/internal/domain"

// Classify maps a raw outcome to its verdict and decides whether it deserves
// an alert. thresholdMS is the latency ceiling for this endpoint; zero
// disables latency alerting. Pure function, no I/O.
func Classify(out Outcome, thresholdMS float64) (domain.Verdict, bool) {
	switch out.Failure {
	case FailureConnection:
		return domain.VerdictConnectionError, true
	case FailureTimeout:
		return domain.VerdictTimeout, true
	}

	switch {
	case out.StatusCode >= 500:
		return domain.VerdictServerError, true
	case out.StatusCode >= 400:
		return domain.VerdictClientError, true
	case out.StatusCode >= 200:
		// 2xx and unfollowed 3xx both count as success; only latency can
		// make them alert-worthy.
		slow := thresholdMS > 0 && out.LatencyMS != nil && *out.LatencyMS > thresholdMS
		return domain.VerdictSuccess, slow
	default:
		// 1xx never escapes the client; anything stray is a server anomaly.
		return domain.VerdictServerError, true
	}
}

// EffectiveThreshold picks the latency ceiling for an endpoint: its own
// override when set, otherwise the process-wide default.
func EffectiveThreshold(ep domain.Endpoint, defaultMS float64) float64 {
	if ep.LatencyThresholdMS != nil {
		return *ep.LatencyThresholdMS
	}
	return defaultMS
}

// ErrorText is the stored error message for a transport failure class.
func (f Failure) ErrorText() string {
	switch f {
	case FailureTimeout:
		return "Request timeout"
	case FailureConnection:
		return "Connection error"
	default:
		return ""
	}
}
