// Package resource talks to the downstream services that own platform
// resources (locations, organisations, ...). Every operation returns either a
// payload or a *Error; callers never have to guess what kind of failure they got.
package resource

import (
	"context"
	"fmt"

	"github.com/dandantas/lms-worker/internal/model"
)

// Client is the create-or-update facade over one resource kind
type Client interface {
	// Search returns the records matching every filter, in the order the service returns them.
	Search(ctx context.Context, filters map[string]any) ([]model.Record, error)
	// Create creates a resource from fields.
	Create(ctx context.Context, fields model.Row) (model.Record, error)
	// Update updates the resource identified by id with fields.
	Update(ctx context.Context, id string, fields model.Row) (model.Record, error)
}

// Operation names used in errors and logs
const (
	OpSearch = "search"
	OpCreate = "create"
	OpUpdate = "update"
)

// Error is the typed failure returned by every Client operation
type Error struct {
	Op         string
	StatusCode int    // 0 when the request never got a response
	Code       string // service error code, e.g. CLIENT_ERROR
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("resource %s failed (status %d, code %s): %s", e.Op, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("resource %s failed: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }
