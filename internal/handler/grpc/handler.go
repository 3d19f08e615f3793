package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/TomasB/geolookup/internal/address"
	"github.com/TomasB/geolookup/internal/lookup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Orchestrator resolves an address against the loaded datasets.
type Orchestrator interface {
	Resolve(addr address.Address) lookup.Outcome
}

// Resolver validates explicit addresses and determines the caller address
// from a transport peer and its forwarding metadata.
type Resolver interface {
	ResolveExplicit(raw string) (address.Address, error)
	ResolvePeer(ctx context.Context, remote string, header func(name string) []string) (address.Address, string, error)
}

// Handler implements the gRPC Lookup service.
type Handler struct {
	orchestrator Orchestrator
	resolver     Resolver
}

// NewHandler creates a new gRPC handler.
func NewHandler(orchestrator Orchestrator, resolver Resolver) *Handler {
	return &Handler{orchestrator: orchestrator, resolver: resolver}
}

// Lookup resolves an explicit address.
func (h *Handler) Lookup(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	addr, err := h.resolver.ResolveExplicit(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return toStruct(h.orchestrator.Resolve(addr), "")
}

// LookupSelf resolves the caller. Forwarding metadata is honoured under the
// same trust policy as HTTP headers.
func (h *Handler) LookupSelf(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return nil, status.Error(codes.InvalidArgument, "peer address unavailable")
	}

	md, _ := metadata.FromIncomingContext(ctx)
	addr, source, err := h.resolver.ResolvePeer(ctx, p.Addr.String(), md.Get)
	if err != nil {
		slog.Warn("caller address could not be determined", "peer", p.Addr.String(), "error", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return toStruct(h.orchestrator.Resolve(addr), source)
}

// toStruct converts an outcome to the same JSON document the HTTP surface
// returns.
func toStruct(out lookup.Outcome, source string) (*structpb.Struct, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode outcome: %v", err))
	}

	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode outcome: %v", err))
	}

	if source != "" {
		s.Fields["source"] = structpb.NewStringValue(source)
	}
	return s, nil
}
