package core

import "time"

// Envelope is the uniform JSON reply shape for every business operation:
// {"status":"ok"|"error","message":<T>}.
type Envelope struct {
	Status  string `json:"status"`
	Message any    `json:"message"`
}

func OK(message any) Envelope {
	return Envelope{Status: "ok", Message: message}
}

// ErrorEnvelope renders a failed operation. Funds and holdings rejections
// carry a stable code so clients can branch on them; everything else
// carries the failure timestamp, which is what clients of the original
// wire format expect.
func ErrorEnvelope(err error, now time.Time) Envelope {
	switch KindOf(err) {
	case KindNotEnoughFunds:
		return Envelope{Status: "error", Message: "NOT_ENOUGH_FUNDS"}
	case KindNotEnoughHoldings:
		return Envelope{Status: "error", Message: "NOT_ENOUGH_HOLDINGS"}
	default:
		return Envelope{Status: "error", Message: now.UTC().Format(time.RFC3339Nano)}
	}
}
