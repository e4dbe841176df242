package imagesource

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an image could not be acquired.
type ErrorKind string

const (
	KindDownload ErrorKind = "download"
	KindNotFound ErrorKind = "not_found"
	KindDecode   ErrorKind = "decode"
)

// AcquireError is returned when an image cannot be fetched, found or decoded.
type AcquireError struct {
	Kind   ErrorKind
	Source string
	Err    error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire image %s (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// Message renders the error the way it is shown to end users in place of
// a caption.
func (e *AcquireError) Message() string {
	switch e.Kind {
	case KindDownload:
		return fmt.Sprintf("Error: Could not download image from URL. %v", e.Err)
	case KindNotFound:
		return fmt.Sprintf("Error: Image file not found at %s", e.Source)
	default:
		return fmt.Sprintf("Error: Could not open image. %v", e.Err)
	}
}

// AsAcquireError reports whether err is, or wraps, an AcquireError.
func AsAcquireError(err error) (*AcquireError, bool) {
	var acqErr *AcquireError
	if errors.As(err, &acqErr) {
		return acqErr, true
	}
	return nil, false
}
