package util

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateRequestID returns a short correlation ID for request-scoped logs.
func GenerateRequestID() string {
	id := uuid.New()
	return fmt.Sprintf("req_%s", id.String()[:13])
}
