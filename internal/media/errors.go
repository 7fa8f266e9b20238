package media

import (
	"errors"
	"fmt"

	"github.com/dkeye/ringcall/internal/domain"
)

// ErrMediaAccess marks every capture failure: permission denied, no device,
// or no capture support on this platform.
var ErrMediaAccess = errors.New("media access failed")

type AccessError struct {
	Mode domain.Mode
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("acquire %s media: %v", e.Mode, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

func (e *AccessError) Is(target error) bool { return target == ErrMediaAccess }
