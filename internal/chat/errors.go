package chat

import "errors"

// Error codes sent to the client that caused a failure.
const (
	CodeValidation  = "validation_error"
	CodePersistence = "persistence_error"
	CodePublish     = "publish_error"
)

var (
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrMalformedEvent = errors.New(`event must be a JSON object with a string "message" field`)
)

// PersistenceError wraps a store failure. Nothing was broadcast.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "store message: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// PublishError wraps a fan-out failure. The message is already stored.
type PublishError struct {
	MessageID int
	Err       error
}

func (e *PublishError) Error() string { return "broadcast message: " + e.Err.Error() }
func (e *PublishError) Unwrap() error { return e.Err }

// Code maps an error returned by Service.Post or ParseInbound to the code
// reported to the client.
func Code(err error) string {
	var persistErr *PersistenceError
	var publishErr *PublishError
	switch {
	case errors.As(err, &persistErr):
		return CodePersistence
	case errors.As(err, &publishErr):
		return CodePublish
	default:
		return CodeValidation
	}
}
