package profile

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid profile name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9_][a-z0-9_-]{0,63}$`)

// ValidateName checks that name can be used as a directory under profiles/.
// A leading hyphen is refused so the name never reads as a CLI flag.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-64 of a-z, 0-9, '_' or '-', not starting with '-'", ErrInvalidName, name)
	}
	return nil
}
