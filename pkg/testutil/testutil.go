// Package testutil provides helpers shared by package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// TestServer is an in-memory gRPC server.
type TestServer struct {
	Listener *bufconn.Listener
	Server   *grpc.Server
}

// NewTestServer wraps srv, or a bare server when srv is nil, in a bufconn listener.
func NewTestServer(srv *grpc.Server) *TestServer {
	if srv == nil {
		srv = grpc.NewServer()
	}
	return &TestServer{
		Listener: bufconn.Listen(bufSize),
		Server:   srv,
	}
}

// Start serves in a goroutine. The server is stopped on test cleanup.
func (ts *TestServer) Start(t *testing.T) {
	t.Helper()
	go ts.Server.Serve(ts.Listener)
	t.Cleanup(ts.Server.Stop)
}

// Dial connects a client to the in-memory server.
func (ts *TestServer) Dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ts.Listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WaitFor polls condition until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for condition: %s", msg)
}

// TestContext returns a context cancelled when the test ends.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
