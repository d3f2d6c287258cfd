package kbsync

import (
	"errors"
	"fmt"
)

var (
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	ErrInvalidConfig         = errors.New("invalid synchronization config")
)

// InvalidActionError reports a request the engine refuses to act on, such
// as nesting a node under an article. It signals a caller bug, not a remote
// failure.
type InvalidActionError struct {
	Op     string
	URI    string
	Reason string
}

func (e *InvalidActionError) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.URI, e.Reason)
}
