package utils

import "github.com/google/uuid"

// GenerateID returns a random identifier used for request correlation.
func GenerateID() string {
	return uuid.NewString()
}
