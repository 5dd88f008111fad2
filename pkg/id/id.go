package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func Generate() uuid.UUID {
	return uuid.New()
}

// Parse reads a uuid from a path or query value. The nil uuid is rejected.
func Parse(raw string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: nil uuid", raw)
	}
	return parsed, nil
}
