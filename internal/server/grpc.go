package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/coedit/internal/sessionpb"
	"github.com/alfredjeanlab/coedit/internal/store"
)

var _ sessionpb.SessionServiceServer = (*SessionServer)(nil)

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the SessionService, reflection, and returns the server ready to serve.
func NewGRPCServer(sessionServer *SessionServer) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
		),
	)

	sessionpb.RegisterSessionServiceServer(srv, sessionServer)
	reflection.Register(srv)

	return srv
}

// rpcError maps core errors to gRPC status codes.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	var ie inputError
	switch {
	case errors.As(err, &ie):
		return status.Error(codes.InvalidArgument, ie.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, "session not found")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Errorf(codes.Internal, "%v", err)
}

func empty() *structpb.Struct { return &structpb.Struct{} }

// CreateSession creates a session. Request: {creator_id, code}.
func (s *SessionServer) CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.createSession(ctx, sessionpb.String(req, "creator_id"), sessionpb.String(req, "code"))
	if err != nil {
		return nil, rpcError(err)
	}
	return sessionpb.NewStruct(map[string]any{"session": sessionpb.SessionMap(sess)}), nil
}

// GetSession returns a session. Request: {id}.
func (s *SessionServer) GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.getSession(ctx, sessionpb.String(req, "id"))
	if err != nil {
		return nil, rpcError(err)
	}
	return sessionpb.NewStruct(map[string]any{"session": sessionpb.SessionMap(sess)}), nil
}

// ListSessions returns every session.
func (s *SessionServer) ListSessions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sessions, err := s.listSessions(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return sessionpb.NewStruct(map[string]any{
		"sessions": sessionpb.SessionsToValue(sessions),
		"total":    float64(len(sessions)),
	}), nil
}

// UpdateCode overwrites a session's code. Request: {id, code}.
func (s *SessionServer) UpdateCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, ok := req.GetFields()["code"]; !ok {
		return nil, status.Error(codes.InvalidArgument, "code is required")
	}
	if err := s.updateCode(ctx, sessionpb.String(req, "id"), sessionpb.String(req, "code")); err != nil {
		return nil, rpcError(err)
	}
	return empty(), nil
}

// SetLocked sets a session's lock flag. Request: {id, locked}.
func (s *SessionServer) SetLocked(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.setLocked(ctx, sessionpb.String(req, "id"), sessionpb.Bool(req, "locked")); err != nil {
		return nil, rpcError(err)
	}
	return empty(), nil
}

// ListParticipants returns a session's roster. Request: {id}.
func (s *SessionServer) ListParticipants(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	names, err := s.listParticipants(ctx, sessionpb.String(req, "id"))
	if err != nil {
		return nil, rpcError(err)
	}
	return sessionpb.NewStruct(map[string]any{"participants": sessionpb.StringList(names)}), nil
}

// RemoveParticipant removes a name from a session's roster. Request: {id, name}.
func (s *SessionServer) RemoveParticipant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.removeParticipant(ctx, sessionpb.String(req, "id"), sessionpb.String(req, "name")); err != nil {
		return nil, rpcError(err)
	}
	return empty(), nil
}

// Health reports server liveness.
func (s *SessionServer) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return sessionpb.NewStruct(map[string]any{"status": "ok"}), nil
}
