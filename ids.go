package process

import "github.com/google/uuid"

// IDGenerator produces opaque identifiers.
type IDGenerator func() string

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// ActivityInstanceID builds "<activityID>:<id>". Activity instance ids never
// share the format of execution ids.
func ActivityInstanceID(gen IDGenerator, activityID string) string {
	if gen == nil {
		gen = NewID
	}
	return activityID + ":" + gen()
}
