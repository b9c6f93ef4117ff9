package server

import (
	"TroveLedger/internal/observability"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "troveledger.v1.Ledger"

// FullMethod returns the gRPC method path of rpc.
func FullMethod(rpc string) string { return "/" + ServiceName + "/" + rpc }

// LedgerServiceDesc describes the ledger service for grpc.Server. Messages are
// JSON (see CodecName).
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetSystem", LedgerServer.GetSystem),
		unary("GetPosition", LedgerServer.GetPosition),
		unary("ListSortedPositions", LedgerServer.ListSortedPositions),
		unary("GetInsertHints", LedgerServer.GetInsertHints),
		unary("GetRedemptionHints", LedgerServer.GetRedemptionHints),
		unary("GetDeposit", LedgerServer.GetDeposit),
		unary("GetFrontEnd", LedgerServer.GetFrontEnd),
		unary("GetStake", LedgerServer.GetStake),
		unary("GetStabilityPool", LedgerServer.GetStabilityPool),
		unary("GetBalance", LedgerServer.GetBalance),
		unary("GetCollateralSurplus", LedgerServer.GetCollateralSurplus),
		unary("GetRates", LedgerServer.GetRates),
		unary("GetProjectedBalance", LedgerServer.GetProjectedBalance),
		unary("ListPositions", LedgerServer.ListPositions),
		unary("ListLiquidations", LedgerServer.ListLiquidations),
		unary("ListRedemptions", LedgerServer.ListRedemptions),
		unary("ListJournals", LedgerServer.ListJournals),
		unary("SubmitCommand", LedgerServer.SubmitCommand),
		unary("AdminTakeSnapshot", LedgerServer.AdminTakeSnapshot),
		unary("AdminRebuildProjections", LedgerServer.AdminRebuildProjections),
		unary("AdminGetEventLogInfo", LedgerServer.AdminGetEventLogInfo),
		unary("AdminVerifyIntegrity", LedgerServer.AdminVerifyIntegrity),
	},
}

func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPCServer wraps the gRPC server and the HTTP gateway in front of it.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	health        *health.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// NewGRPCServer creates a gRPC server with the ledger, health and reflection
// services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps, healthChecker *observability.HealthChecker, metrics *observability.Metrics) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		metricsInterceptor(metrics),
		adminAuthInterceptor(deps.AdminToken),
	))
	grpcServer.RegisterService(&LedgerServiceDesc, NewLedgerService(deps))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		health:        healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: healthChecker,
		logger:        observability.NewLogger("server"),
	}
}

// SetServing flips the gRPC health status of the ledger service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus("", st)
}

// Serve accepts connections on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *GRPCServer) Stop() {
	s.grpcServer.GracefulStop()
}

// StartGRPC listens on the configured address and blocks until ctx is done.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler returns the HTTP surface: health endpoints plus the gateway routes
// forwarding to conn.
func (s *GRPCServer) Handler(conn grpc.ClientConnInterface) (http.Handler, error) {
	gw, err := NewGateway(conn)
	if err != nil {
		return nil, err
	}
	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", gw)
	return httpMux, nil
}

// StartHTTPGateway serves HTTP/JSON by proxying to the gRPC listener. It
// blocks until ctx is done.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	conn, err := grpc.NewClient(s.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial grpc for gateway: %w", err)
	}
	defer conn.Close()

	handler, err := s.Handler(conn)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Str("grpc", s.grpcAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Interceptors
// ============================================================================

func metricsInterceptor(metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if metrics != nil {
			method := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
			metrics.QueryRequests.WithLabelValues(method, status.Code(err).String()).Inc()
			metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

// requiresAdmin reports whether a method mutates state or runs maintenance.
func requiresAdmin(fullMethod string) bool {
	if !strings.HasPrefix(fullMethod, "/"+ServiceName+"/") {
		return false
	}
	rpc := strings.TrimPrefix(fullMethod, "/"+ServiceName+"/")
	return rpc == "SubmitCommand" || strings.HasPrefix(rpc, "Admin")
}

// adminAuthInterceptor enforces a bearer token on admin methods. With no
// token configured those methods are disabled.
func adminAuthInterceptor(token string) grpc.UnaryServerInterceptor {
	token = strings.TrimSpace(token)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !requiresAdmin(info.FullMethod) {
			return handler(ctx, req)
		}
		if token == "" {
			return nil, status.Error(codes.PermissionDenied, "admin authentication is not configured")
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		for _, header := range md.Get("authorization") {
			if parseBearerToken(header) == token {
				return handler(ctx, req)
			}
		}
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
}

func parseBearerToken(header string) string {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}
