package repositories

import "errors"

// ErrNotFound is wrapped by every repository's not-found error so
// callers can branch with errors.Is without knowing which store the
// lookup hit.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is any repository's not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
