package domain

// Verdict is the classifier's semantic judgment of a check outcome,
// distinct from the raw HTTP status.
type Verdict string

const (
	VerdictSuccess         Verdict = "success"
	VerdictClientError     Verdict = "client_error"
	VerdictServerError     Verdict = "server_error"
	VerdictTimeout         Verdict = "timeout"
	VerdictConnectionError Verdict = "connection_error"
)

func (v Verdict) Known() bool {
	_, ok := alertTypeByVerdict[v]
	return ok
}

type AlertType string

const (
	AlertDowntime        AlertType = "downtime"
	AlertHighLatency     AlertType = "high_latency"
	AlertConnectionError AlertType = "connection_error"
)

// alertTypeByVerdict maps every verdict to the alert type raised when the
// outcome is alert-worthy. Exhaustive on purpose: success only reaches the
// alerter when latency exceeded the threshold.
var alertTypeByVerdict = map[Verdict]AlertType{
	VerdictSuccess:         AlertHighLatency,
	VerdictClientError:     AlertDowntime,
	VerdictServerError:     AlertDowntime,
	VerdictTimeout:         AlertDowntime,
	VerdictConnectionError: AlertConnectionError,
}

// AlertTypeFor returns the alert type a verdict raises. ok is false for
// verdicts this build does not know, which callers treat as a bug.
func AlertTypeFor(v Verdict) (AlertType, bool) {
	t, ok := alertTypeByVerdict[v]
	return t, ok
}
