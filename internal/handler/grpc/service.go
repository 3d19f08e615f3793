package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/TomasB/geolookup/internal/data"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the full name of the Lookup service.
const ServiceName = "geolookup.v1.Lookup"

// DatasetServicePrefix prefixes the per-dataset health service names.
const DatasetServicePrefix = "geolookup.dataset."

// ErrForcedStop is returned by Serve when calls were still running once the
// stop timeout elapsed.
var ErrForcedStop = errors.New("forced stop")

// LookupServer is the server API for the Lookup service.
type LookupServer interface {
	Lookup(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	LookupSelf(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// LookupServiceDesc describes the Lookup service over protobuf well-known
// types.
var LookupServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LookupServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lookup", Handler: lookupHandler},
		{MethodName: "LookupSelf", Handler: lookupSelfHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Lookup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LookupServer).Lookup(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupSelfHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).LookupSelf(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/LookupSelf"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LookupServer).LookupSelf(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// NewHealthServer reports the overall status under "" and ServiceName, and
// each dataset under DatasetServicePrefix+kind. Overall is SERVING when at
// least one dataset is loaded, or every dataset when requireAll is set.
func NewHealthServer(st data.HealthStatus, requireAll bool) *health.Server {
	hs := health.NewServer()

	overall := st.AnyLoaded()
	if requireAll {
		overall = st.AllLoaded
	}
	hs.SetServingStatus("", servingStatus(overall))
	hs.SetServingStatus(ServiceName, servingStatus(overall))

	for kind, loaded := range st.Datasets {
		hs.SetServingStatus(DatasetServicePrefix+kind.String(), servingStatus(loaded))
	}

	return hs
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// NewServer builds a gRPC server carrying the Lookup, health and reflection
// services.
func NewServer(h LookupServer, hs *health.Server, logger *slog.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLogger(logger)))
	s.RegisterService(&LookupServiceDesc, h)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return s
}

// UnaryLogger logs every unary call the way the HTTP request logger does.
func UnaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err != nil {
			logger.Warn("rpc completed", append(attrs, "error", err)...)
		} else {
			logger.Info("rpc completed", attrs...)
		}
		return resp, err
	}
}

// Serve runs s on lis until ctx is done, then stops it gracefully. Calls
// still running after timeout are cut off and ErrForcedStop is returned.
func Serve(ctx context.Context, s *grpc.Server, lis net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("grpc server started", "addr", lis.Addr().String())
		errCh <- s.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("grpc server shutting down")

	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		s.Stop()
		return fmt.Errorf("grpc server: %w", ErrForcedStop)
	}

	slog.Info("grpc server stopped")
	return nil
}
