// Package transportgrpc exposes the router's generate/load/unload/listModels
// surface over gRPC, alongside the HTTP transport in internal/api. There is
// no .proto/protoc step: methods are registered on a hand-built
// grpc.ServiceDesc against the JSON codec in codec.go, trading the
// generated-stub ergonomics for a dependency-free build.
package transportgrpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/aiserve/modelrouter/internal/auth"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/pipeline"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// Server implements the model router's gRPC service.
type Server struct {
	authService *auth.Service
	executor    *pipeline.Executor
	registry    *registry.Registry
	dispatcher  *loader.Dispatcher
	grpcServer  *grpc.Server
}

// NewServer wires the gRPC surface to the same domain components the HTTP
// transport uses; there is no separate gRPC-only business logic.
func NewServer(authService *auth.Service, executor *pipeline.Executor, reg *registry.Registry, dispatcher *loader.Dispatcher) *Server {
	return &Server{authService: authService, executor: executor, registry: reg, dispatcher: dispatcher}
}

// Start listens on address and serves until the process is stopped. TLS is
// enabled when both cert and key paths are non-empty.
func (s *Server) Start(address, certFile, keyFile string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("transportgrpc: listen: %w", err)
	}

	opts := []grpc.ServerOption{grpc.UnaryInterceptor(s.authInterceptor)}
	if certFile != "" && keyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("transportgrpc: load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
		log.Printf("transportgrpc: listening on %s (TLS)", address)
	} else {
		log.Printf("transportgrpc: listening on %s (insecure)", address)
	}

	s.grpcServer = grpc.NewServer(opts...)
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s.grpcServer.Serve(lis)
}

// StartTLS serves with an explicit tls.Config, for callers managing their
// own certificate rotation instead of passing file paths to Start.
func (s *Server) StartTLS(address string, cfg *tls.Config) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("transportgrpc: listen: %w", err)
	}
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(s.authInterceptor),
		grpc.Creds(credentials.NewTLS(cfg)),
	}
	s.grpcServer = grpc.NewServer(opts...)
	s.grpcServer.RegisterService(&serviceDesc, s)
	log.Printf("transportgrpc: listening on %s (TLS)", address)
	return s.grpcServer.Serve(lis)
}

// Stop gracefully drains in-flight RPCs and shuts down the listener.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

type apiKeyContextKey struct{}

func apiKeyIDFromContext(ctx context.Context) string {
	info, ok := ctx.Value(apiKeyContextKey{}).(*auth.APIKeyInfo)
	if !ok {
		return ""
	}
	return info.ID.String()
}

// authInterceptor validates every unary call except HealthCheck against
// either an x-api-key or a bearer JWT, mirroring internal/middleware's HTTP
// equivalent so both transports enforce the same policy.
func (s *Server) authInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if info.FullMethod == "/modelrouter.ModelRouter/HealthCheck" {
		return handler(ctx, req)
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	if keys := md.Get("x-api-key"); len(keys) > 0 {
		info, err := s.authService.ValidateAPIKey(ctx, keys[0])
		if err == nil {
			return handler(context.WithValue(ctx, apiKeyContextKey{}, info), req)
		}
	}

	tokens := md.Get("authorization")
	if len(tokens) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization token")
	}
	token := strings.TrimPrefix(tokens[0], "Bearer ")
	if _, err := auth.ValidateToken(token, s.authService.GetJWTSecret()); err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}
	return handler(ctx, req)
}

// --- RPC message types (plain structs, marshaled by jsonCodec) ---

type GenerateRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop"`
	Strategy    string   `json:"strategy"`
	// Stream asks the handle to generate incrementally; the hand-rolled
	// service desc has no server-streaming method, so chunks are collected
	// into one response rather than delivered as they arrive.
	Stream bool `json:"stream"`
}

type GenerateResponse struct {
	Model        string `json:"model"`
	Text         string `json:"text"`
	Tokens       int    `json:"tokens"`
	FinishReason string `json:"finish_reason"`
	CacheHit     bool   `json:"cache_hit"`
}

type ModelRequest struct {
	ID string `json:"id"`
}

type StatusResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type ListModelsRequest struct{}

type ListModelsResponse struct {
	Models []registry.Snapshot `json:"models"`
}

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// --- RPC methods ---

func (s *Server) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	pc := &pipeline.Context{
		Request: loader.Request{
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stop:        req.Stop,
			Stream:      req.Stream,
		},
		Strategy:      req.Strategy,
		ExplicitModel: req.Model,
		APIKey:        apiKeyIDFromContext(ctx),
	}
	if err := s.executor.Run(ctx, pc); err != nil {
		return nil, toGRPCError(err)
	}

	result := pc.Result
	if req.Stream && !pc.CacheHit {
		collected, err := pipeline.CollectStream(ctx, pc.StreamChunks)
		if err != nil {
			return nil, toGRPCError(err)
		}
		result = collected
	}

	return &GenerateResponse{
		Model:        pc.ModelID,
		Text:         result.Text,
		Tokens:       result.Tokens,
		FinishReason: result.FinishReason,
		CacheHit:     pc.CacheHit,
	}, nil
}

func (s *Server) LoadModel(ctx context.Context, req *ModelRequest) (*StatusResponse, error) {
	snap, err := s.registry.Get(req.ID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	started := time.Now()
	handle, err := s.dispatcher.Load(ctx, snap.Descriptor)
	if err != nil {
		return nil, toGRPCError(err)
	}
	if err := s.registry.AttachHandle(req.ID, handle, time.Since(started)); err != nil {
		_ = handle.Close(ctx)
		return nil, toGRPCError(err)
	}
	return &StatusResponse{Status: "loaded", Model: req.ID}, nil
}

func (s *Server) UnloadModel(ctx context.Context, req *ModelRequest) (*StatusResponse, error) {
	if err := s.registry.Unregister(ctx, req.ID); err != nil {
		return nil, toGRPCError(err)
	}
	return &StatusResponse{Status: "unloaded", Model: req.ID}, nil
}

func (s *Server) ListModels(ctx context.Context, req *ListModelsRequest) (*ListModelsResponse, error) {
	return &ListModelsResponse{Models: s.registry.List()}, nil
}

func (s *Server) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	return &HealthCheckResponse{Status: "ok", Timestamp: time.Now().Unix()}, nil
}

func toGRPCError(err error) error {
	kind, _ := routererr.KindOf(err)
	switch kind {
	case routererr.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case routererr.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case routererr.KindDuplicateID:
		return status.Error(codes.AlreadyExists, err.Error())
	case routererr.KindCapabilityUnavailable, routererr.KindCapacityExceeded:
		return status.Error(codes.FailedPrecondition, err.Error())
	case routererr.KindCancelled:
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
