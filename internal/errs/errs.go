// Package errs defines the sentinel error taxonomy shared by the memory,
// runtime, and council services. The memory and runtime services wrap these
// with fmt.Errorf and %w so callers can classify failures with errors.Is;
// council provider queries report them as the prefix of QueryResult.Error.
package errs

import "errors"

var (
	// ErrNotFound is returned when a referenced entity, goal, task, pipeline,
	// concept, or skill does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique-name constraint is violated.
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalidArgument is returned when inputs fall outside documented
	// ranges or required fields are missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStateConflict is returned on state-machine violations.
	ErrStateConflict = errors.New("state conflict")

	// ErrProviderUnavailable is returned when a council provider binary is
	// missing from PATH.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderTimeout is returned when a provider subprocess exceeds its
	// deadline.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrProviderFailure is returned on non-zero provider exit or empty
	// output.
	ErrProviderFailure = errors.New("provider failure")

	// ErrStorage is returned on underlying store I/O failure.
	ErrStorage = errors.New("storage error")
)
