package model

import "time"

// SessionStatus is the state of a feedback session.
type SessionStatus string

// Session status constants. Every status other than SessionWaiting is terminal.
const (
	SessionWaiting          SessionStatus = "waiting"
	SessionReceiptSubmitted SessionStatus = "receipt_submitted"
	SessionCancelled        SessionStatus = "cancelled"
	SessionExpired          SessionStatus = "expired"
	SessionNoResponse       SessionStatus = "no_response"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionWaiting
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionWaiting, SessionReceiptSubmitted, SessionCancelled, SessionExpired, SessionNoResponse:
		return true
	}
	return false
}

// FeedbackSession is the window in which a user's next receipt confirms a prediction.
type FeedbackSession struct {
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UpdatedAt      time.Time
	ReminderSentAt *time.Time
	ClosedAt       *time.Time
	UserID         string
	Status         SessionStatus
	ID             int64
	PredictionID   int64
}
