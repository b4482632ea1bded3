package utils

import (
	"io"

	"go.uber.org/multierr"
)

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

// CloseAll closes every non-nil closer, in order, and returns the combined errors.
func CloseAll(closers ...io.Closer) error {
	var errs error
	for _, c := range closers {
		if c == nil {
			continue
		}
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}
