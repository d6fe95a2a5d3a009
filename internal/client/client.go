// Package client provides a transport-agnostic interface for the coedit
// session API, with HTTP/JSON and gRPC implementations.
package client

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/coedit/internal/model"
)

// SessionClient is the interface that all coedit CLI commands use to
// communicate with the server. It is implemented by HTTPClient (default) and
// GRPCClient.
type SessionClient interface {
	// Sessions
	CreateSession(ctx context.Context, creatorID, code string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	UpdateCode(ctx context.Context, id, code string) error
	SetLocked(ctx context.Context, id string, locked bool) error

	// Roster
	ListParticipants(ctx context.Context, id string) ([]string, error)
	RemoveParticipant(ctx context.Context, id, name string) error

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// IsNotFound reports whether err is a not-found response from either
// transport.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return status.Code(err) == codes.NotFound
}
