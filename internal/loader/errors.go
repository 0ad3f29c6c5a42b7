package loader

import "fmt"

// LoadError reports a source package that could not be read or did not
// contain the requested meta-graph or signature.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("loader: %s", e.Reason)
	if e.Path != "" {
		msg += fmt.Sprintf(" (source %s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

func loadErrf(path string, err error, format string, args ...any) *LoadError {
	return &LoadError{Path: path, Reason: fmt.Sprintf(format, args...), Err: err}
}
