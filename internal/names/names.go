// Package names generates identifiers for runs: opaque IDs plus
// Docker-style human-readable names.
package names

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/docker/pkg/namesgenerator"
	"github.com/google/uuid"
)

// ErrInvalidName is returned for user-supplied names that cannot be used.
var ErrInvalidName = errors.New("invalid run name")

// idLength is the number of hex characters kept from a UUID.
const idLength = 12

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

// ExistsFn checks if a name already exists.
type ExistsFn func(name string) bool

// NewID returns a short random run ID (e.g., "3f2a9c1b04de").
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// Generate returns a random adjective-surname name (e.g., "focused-turing").
func Generate() string {
	return strings.ReplaceAll(namesgenerator.GetRandomName(0), "_", "-")
}

// GenerateUnique returns a name that doesn't exist according to existsFn.
// Returns an error if unable to find a unique name after maxAttempts tries.
func GenerateUnique(existsFn ExistsFn, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 100
	}

	for range maxAttempts {
		name := Generate()
		if !existsFn(name) {
			return name, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique name after %d attempts", maxAttempts)
}

// Validate checks a user-supplied run name. Names are lowercase, start with
// a letter or digit, and may contain '-', '_' and '.'.
func Validate(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
