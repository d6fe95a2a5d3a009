package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/sessionpb"
)

// GRPCClient implements SessionClient using the gRPC transport.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client *sessionpb.SessionServiceClient
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// Extra dial options are appended after the insecure transport credentials.
func NewGRPCClient(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:   conn,
		client: sessionpb.NewSessionServiceClient(conn),
	}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// --- Sessions ---

func (c *GRPCClient) CreateSession(ctx context.Context, creatorID, code string) (*model.Session, error) {
	resp, err := c.client.CreateSession(ctx, sessionpb.NewStruct(map[string]any{
		"creator_id": creatorID,
		"code":       code,
	}))
	if err != nil {
		return nil, err
	}
	return sessionpb.SessionFromStruct(resp.GetFields()["session"].GetStructValue())
}

func (c *GRPCClient) GetSession(ctx context.Context, id string) (*model.Session, error) {
	resp, err := c.client.GetSession(ctx, sessionpb.NewStruct(map[string]any{"id": id}))
	if err != nil {
		return nil, err
	}
	return sessionpb.SessionFromStruct(resp.GetFields()["session"].GetStructValue())
}

func (c *GRPCClient) ListSessions(ctx context.Context) ([]*model.Session, error) {
	resp, err := c.client.ListSessions(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sessionpb.SessionsFromStruct(resp, "sessions")
}

func (c *GRPCClient) UpdateCode(ctx context.Context, id, code string) error {
	_, err := c.client.UpdateCode(ctx, sessionpb.NewStruct(map[string]any{"id": id, "code": code}))
	return err
}

func (c *GRPCClient) SetLocked(ctx context.Context, id string, locked bool) error {
	_, err := c.client.SetLocked(ctx, sessionpb.NewStruct(map[string]any{"id": id, "locked": locked}))
	return err
}

// --- Roster ---

func (c *GRPCClient) ListParticipants(ctx context.Context, id string) ([]string, error) {
	resp, err := c.client.ListParticipants(ctx, sessionpb.NewStruct(map[string]any{"id": id}))
	if err != nil {
		return nil, err
	}
	return sessionpb.Strings(resp, "participants"), nil
}

func (c *GRPCClient) RemoveParticipant(ctx context.Context, id, name string) error {
	_, err := c.client.RemoveParticipant(ctx, sessionpb.NewStruct(map[string]any{"id": id, "name": name}))
	return err
}

// --- Health ---

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	resp, err := c.client.Health(ctx, nil)
	if err != nil {
		return "", err
	}
	return sessionpb.String(resp, "status"), nil
}
