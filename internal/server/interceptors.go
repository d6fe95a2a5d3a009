package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/coedit/internal/sessionpb"
)

// LoggingInterceptor logs the method, duration and outcome of every unary
// RPC. Caller mistakes (bad input, unknown session, cancellation) log at
// Warn; other failures at Error.
func LoggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}
	if in, ok := req.(*structpb.Struct); ok {
		if id := sessionpb.String(in, "id"); id != "" {
			attrs = append(attrs, "session_id", id)
		}
	}

	switch code := status.Code(err); code {
	case codes.OK:
		slog.Info("rpc completed", attrs...)
	case codes.InvalidArgument, codes.NotFound, codes.Canceled, codes.DeadlineExceeded:
		slog.Warn("rpc completed", append(attrs, "code", code.String(), "error", err)...)
	default:
		slog.Error("rpc completed", append(attrs, "code", code.String(), "error", err)...)
	}
	return resp, err
}

// RequestLogger logs the method, path, status and duration of every HTTP
// request. Streaming responses are logged when they end.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		}
		if rec.status >= http.StatusInternalServerError {
			slog.Error("http request", attrs...)
		} else {
			slog.Debug("http request", attrs...)
		}
	})
}

// statusRecorder captures the response status. Unwrap lets
// http.ResponseController reach the underlying writer.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() { _ = r.FlushError() }

// FlushError lets http.ResponseController report an unflushable writer.
func (r *statusRecorder) FlushError() error {
	return http.NewResponseController(r.ResponseWriter).Flush()
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// RecoveryInterceptor catches panics in downstream handlers, logs the stack
// trace, and returns a codes.Internal error instead of crashing the server.
func RecoveryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered in gRPC handler",
				"method", info.FullMethod,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// CORSMiddleware wraps an http.Handler and sets CORS headers for requests
// whose Origin is in allowed. "*" allows every origin. Preflight requests are
// answered directly. With an empty allowlist no headers are set.
func CORSMiddleware(allowed []string, next http.Handler) http.Handler {
	if len(allowed) == 0 {
		return next
	}
	allowAll := slices.Contains(allowed, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || slices.Contains(allowed, origin)) {
			h := w.Header()
			if allowAll {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
