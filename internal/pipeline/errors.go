package pipeline

import "fmt"

// InputError means the input document could not be read or validated.
// It is one of the two fatal error classes; everything per-page degrades.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error (%s): %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// OutputWriteError means the final document could not be written.
type OutputWriteError struct {
	Path string
	Err  error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("output write error (%s): %v", e.Path, e.Err)
}

func (e *OutputWriteError) Unwrap() error { return e.Err }
