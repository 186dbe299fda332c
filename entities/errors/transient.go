package errors

import (
	"context"
	"errors"
)

// IsTransient reports whether a job body failure may succeed on a re-run with
// identical inputs. Broken data invariants and configuration errors never do,
// everything else is assumed to be a crash-like condition the runner may
// retry from the last completed checkpoint.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsDataInvariant(err) || IsConfiguration(err) {
		return false
	}

	return !errors.Is(err, context.Canceled)
}
