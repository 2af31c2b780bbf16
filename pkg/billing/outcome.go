package billing

import "strings"

// OutcomeKind tags the terminal result of a confirmation attempt
type OutcomeKind string

const (
	OutcomePaid     OutcomeKind = "paid"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeExpired  OutcomeKind = "expired"
	OutcomeTimedOut OutcomeKind = "timed_out"
	OutcomeError    OutcomeKind = "error"
)

// Outcome is the terminal result of confirming one checkout session.
// It is built once by the poller and passed around by value.
type Outcome struct {
	Kind      OutcomeKind
	SessionID string

	// Paid
	Amount   int64
	Currency string

	// Failed
	Reason string

	// Error
	Cause error

	// Attempts is how many status queries produced this outcome
	Attempts int
}

// Paid builds a confirmed payment outcome
func Paid(sessionID string, amount int64, currency string) Outcome {
	return Outcome{
		Kind:      OutcomePaid,
		SessionID: sessionID,
		Amount:    amount,
		Currency:  strings.ToLower(strings.TrimSpace(currency)),
	}
}

// Failed builds a processor-confirmed rejection
func Failed(sessionID, reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, SessionID: sessionID, Reason: reason}
}

// Expired builds an outcome for a session whose lifetime ran out
func Expired(sessionID string) Outcome {
	return Outcome{Kind: OutcomeExpired, SessionID: sessionID}
}

// TimedOut builds an outcome for an exhausted budget with only pending answers
func TimedOut(sessionID string) Outcome {
	return Outcome{Kind: OutcomeTimedOut, SessionID: sessionID}
}

// Errored builds an outcome for an exhausted budget where every attempt failed to reach the processor
func Errored(sessionID string, cause error) Outcome {
	return Outcome{Kind: OutcomeError, SessionID: sessionID, Cause: cause}
}

// Definitive reports whether the processor itself settled the session.
// TimedOut and Error mean the answer is still unknown.
func (o Outcome) Definitive() bool {
	switch o.Kind {
	case OutcomePaid, OutcomeFailed, OutcomeExpired:
		return true
	default:
		return false
	}
}

// IsPaid reports whether the outcome grants premium
func (o Outcome) IsPaid() bool {
	return o.Kind == OutcomePaid
}

// DisplayAmount renders the paid amount, empty for non-paid outcomes
func (o Outcome) DisplayAmount() string {
	if o.Kind != OutcomePaid {
		return ""
	}
	return FormatAmount(o.Amount, o.Currency)
}

// MaskSessionID keeps the prefix and the last four characters of a session id
func MaskSessionID(sessionID string) string {
	const visible = 4
	if len(sessionID) <= visible {
		return strings.Repeat("*", len(sessionID))
	}

	prefix := ""
	if i := strings.LastIndex(sessionID, "_"); i >= 0 && i < len(sessionID)-visible {
		prefix = sessionID[:i+1]
	}
	hidden := len(sessionID) - len(prefix) - visible
	return prefix + strings.Repeat("*", hidden) + sessionID[len(sessionID)-visible:]
}
