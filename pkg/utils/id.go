package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewCandidateID returns a fresh random candidate identifier
func NewCandidateID() string {
	return uuid.NewString()
}

// GenerateRunID generates a run ID with a timestamp prefix
func GenerateRunID() string {
	id := uuid.New()
	return fmt.Sprintf("run-%s-%x", time.Now().Format("20060102-150405"), id[:4])
}
