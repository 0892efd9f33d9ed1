package tuning

import "errors"

// Sentinel errors carried in Result.Err.
var (
	// ErrToolNotFound is returned when the configured tuning tool does not exist.
	ErrToolNotFound = errors.New("tuning: tool not found")

	// ErrUnknownProfile is returned when the requested profile is not in a
	// non-empty profile list.
	ErrUnknownProfile = errors.New("tuning: unknown profile")

	// ErrPrivilegeRequired is returned when the tool needs elevated privileges
	// and the current process does not have them. The controller never
	// self-elevates; see Elevator.
	ErrPrivilegeRequired = errors.New("tuning: elevated privileges required")

	// ErrToolFailed is returned when the tool ran but reported failure.
	ErrToolFailed = errors.New("tuning: tool reported failure")

	// ErrInvalidMode is returned by ParseMode for unrecognised values.
	ErrInvalidMode = errors.New("tuning: invalid mode")
)
