package domain

import "errors"

// Domain errors
var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrPageNotFound      = errors.New("page not found")
	ErrInvalidDocument   = errors.New("invalid document")
	ErrEncryptedDocument = errors.New("document is password protected")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLockNotAcquired   = errors.New("lock not acquired")
	ErrJobNotFound       = errors.New("job not found")
	ErrObjectNotFound    = errors.New("object not found")
	ErrInvalidToken      = errors.New("invalid token")
)

// ValidationError represents a validation error with field and message information.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}
