package prescription

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across the lifecycle core. Handlers map these to
// transport status codes; infrastructure failures are wrapped separately and
// never collapse into one of these.
var (
	ErrNotFound         = errors.New("prescription not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflicting update")
)

func invalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

func invalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
