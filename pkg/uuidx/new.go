package uuidx

import "github.com/google/uuid"

// New generates a time-ordered (version 7) UUID. It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New as its canonical string form. Job identifiers use this so
// ids sort in creation order.
func NewString() string {
	return New().String()
}

// Valid reports whether s parses as a UUID of any version.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
