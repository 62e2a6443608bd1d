package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound is returned when the referenced thread does not exist.
	ErrConversationNotFound = errors.New("chat: conversation not found")
	// ErrNotParticipant is returned when an actor operates on a thread they are not part of.
	ErrNotParticipant = errors.New("chat: actor is not a participant")
	// ErrConcurrentCreate signals a lost conditional-create race; callers re-read
	// and retry once before surfacing ErrStoreUnavailable.
	ErrConcurrentCreate = errors.New("chat: concurrent conversation create")
	// ErrStoreUnavailable wraps transient backend failures. The core performs no
	// hidden retries; callers decide whether to retry.
	ErrStoreUnavailable = errors.New("chat: store unavailable")
)

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
