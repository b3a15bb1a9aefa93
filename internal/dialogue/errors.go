package dialogue

import "errors"

// None of these end a conversation; they ride on Reply.Err so callers can
// tell what went wrong with errors.Is.
var (
	ErrParseFailure        = errors.New("dialogue: could not understand message")
	ErrResolutionEmpty     = errors.New("dialogue: participant not found")
	ErrAmbiguityUnresolved = errors.New("dialogue: participant still ambiguous")
	ErrNoAvailability      = errors.New("dialogue: no available slots")
	ErrCalendarFailure     = errors.New("dialogue: calendar failure")
	ErrNotifierFailure     = errors.New("dialogue: notification failure")
)
