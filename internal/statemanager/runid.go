package statemanager

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// NewRunID returns a short, URL-safe session identifier.
func NewRunID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}
