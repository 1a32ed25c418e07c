package bakonf

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrDecode is returned when a stored fingerprint record cannot be decoded.
var ErrDecode = errors.New("invalid fingerprint record")

// ErrStoreLocked is returned when another run holds the fingerprint store.
var ErrStoreLocked = errors.New("fingerprint store is in use by another run")

// ConfigError reports a problem with the run's configuration: an invalid
// exclusion pattern, an unsupported level or a store whose contents do not
// belong to this version of bakonf.
type ConfigError struct {
	Source string
	Err    error
}

func NewConfigError(source string, err error) *ConfigError {
	return &ConfigError{Source: source, Err: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// PathError records a path that could not be examined or archived.
// These are collected during a run rather than aborting it.
type PathError struct {
	Path   string
	Reason string
}

func (e PathError) String() string {
	return fmt.Sprintf("'%s'\t'%s'", e.Path, e.Reason)
}

// reason reduces err to the short form stored in a PathError. Path errors
// are stripped of the operation and path, which the PathError already names.
func reason(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
