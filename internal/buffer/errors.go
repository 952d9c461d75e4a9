package buffer

import (
	"errors"
	"fmt"
)

// ErrMessage is the root of every codec failure. Decode errors are local to
// the frame (and connection) that produced them.
var ErrMessage = errors.New("message error")

var (
	ErrTruncated     = fmt.Errorf("%w: truncated buffer", ErrMessage)
	ErrInvalidString = fmt.Errorf("%w: invalid utf-8", ErrMessage)
)

// OverflowError reports a size, length or count ceiling being exceeded.
type OverflowError struct {
	What  string
	Size  int
	Limit int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s exceeds limit (%d > %d)", e.What, e.Size, e.Limit)
}

func (e *OverflowError) Unwrap() error { return ErrMessage }

func overflow(what string, size, limit int) error {
	return &OverflowError{What: what, Size: size, Limit: limit}
}

// IsOverflow reports whether err is (or wraps) an *OverflowError.
func IsOverflow(err error) bool {
	var oe *OverflowError
	return errors.As(err, &oe)
}
