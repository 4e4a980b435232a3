// Package inferlog records the raw bodies of inference requests so they can
// be analysed later.
package inferlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one captured inference request.
type Entry struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	ReceivedAt   time.Time `json:"received_at"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	ContentType  string    `json:"content_type,omitempty"`
	Body         []byte    `json:"body"`
}

// NewEntry stamps a fresh id and the current time.
func NewEntry(deploymentID, method, path, contentType string, body []byte) Entry {
	return Entry{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		ReceivedAt:   time.Now().UTC(),
		Method:       method,
		Path:         path,
		ContentType:  contentType,
		Body:         body,
	}
}

// Store persists entries.
type Store interface {
	Put(ctx context.Context, e Entry) error
}

// Nop drops every entry.
type Nop struct{}

func (Nop) Put(context.Context, Entry) error { return nil }
