package tracking

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBackendUnavailable = errors.New("tracking backend unavailable")
	ErrRunAlreadyOpen     = errors.New("tracking run already open")
	ErrRunClosed          = errors.New("tracking run is closed")
	ErrInvalidKey         = errors.New("invalid tracking key")
	ErrNoArtifactStore    = errors.New("no artifact store configured")
)

// BackendError is a request the backend answered with a rejection.
type BackendError struct {
	Op          string
	StatusCode  int
	Code        string
	Message     string
	Unavailable bool
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *BackendError) Is(target error) bool {
	return e.Unavailable && target == ErrBackendUnavailable
}

// Unavailable wraps err so that errors.Is(err, ErrBackendUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
