// Package server builds the HTTP router and runs the HTTP and gRPC
// listeners until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/TomasB/classify/internal/app"
	"github.com/TomasB/classify/internal/handler/api"
	"github.com/TomasB/classify/internal/handler/debug"
	classifygrpc "github.com/TomasB/classify/internal/handler/grpc"
	"github.com/TomasB/classify/internal/handler/health"
	"github.com/TomasB/classify/internal/middleware"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// ShutdownTimeout bounds graceful shutdown of the listeners.
const ShutdownTimeout = 30 * time.Second

// Routes configures the optional parts of the router.
type Routes struct {
	// VersionFile is served at /__version__.
	VersionFile string
	// Debug mounts /debug.
	Debug bool
	// Metrics, when set, is served at /__metrics__.
	Metrics http.Handler
}

// NewRouter returns the gin engine serving the classification API and the
// operational endpoints.
func NewRouter(state *app.State, routes Routes) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestLogger(state.Log()))
	router.Use(app.Inject(state))
	router.Use(middleware.ResponseTimer())
	router.Use(gin.Recovery())

	checks := map[string]health.Check{}
	if state.Geo != nil {
		checks["geoip"] = health.ReadyCheck("geoip", state.Geo.Ready)
	}
	healthHandler := health.NewHandler(routes.VersionFile, checks)
	router.GET("/__lbheartbeat__", healthHandler.LBHeartbeat)
	router.GET("/__heartbeat__", healthHandler.Heartbeat)
	router.GET("/__version__", healthHandler.Version)

	if routes.Metrics != nil {
		router.GET("/__metrics__", gin.WrapH(routes.Metrics))
	}
	if routes.Debug {
		router.GET("/debug", debug.Inspect)
	}

	router.GET("/", api.ClassifyClient)
	v1 := router.Group("/api/v1")
	{
		v1.GET("/classify_client/", api.ClassifyClient)
	}

	return router
}

// NewGRPCServer returns a gRPC server exposing the classify service with
// response timing and panic recovery.
func NewGRPCServer(state *app.State) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		classifygrpc.ResponseTimerInterceptor(state.Metrics),
		classifygrpc.RecoveryInterceptor(),
	))
	classifygrpc.Register(srv, classifygrpc.NewHandler(state))
	return srv
}

// Server owns the listeners of one process.
type Server struct {
	http     *http.Server
	httpLis  net.Listener
	grpc     *grpc.Server
	grpcLis  net.Listener
	logger   *slog.Logger
	shutdown time.Duration
}

// Listen binds the HTTP listener on httpAddr and, when grpcAddr is not
// empty, the gRPC listener. Bind failures are returned before anything is
// served.
func Listen(state *app.State, handler http.Handler, httpAddr, grpcAddr string) (*Server, error) {
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", httpAddr, err)
	}

	s := &Server{
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		httpLis:  httpLis,
		logger:   state.Log(),
		shutdown: ShutdownTimeout,
	}

	if grpcAddr != "" {
		grpcLis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			httpLis.Close()
			return nil, fmt.Errorf("listening on %s: %w", grpcAddr, err)
		}
		s.grpc = NewGRPCServer(state)
		s.grpcLis = grpcLis
	}
	return s, nil
}

// HTTPAddr is the bound HTTP address.
func (s *Server) HTTPAddr() net.Addr {
	return s.httpLis.Addr()
}

// GRPCAddr is the bound gRPC address, or nil when gRPC is disabled.
func (s *Server) GRPCAddr() net.Addr {
	if s.grpcLis == nil {
		return nil
	}
	return s.grpcLis.Addr()
}

// Serve runs the listeners until ctx is cancelled or one of them fails,
// then shuts both down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server started", "addr", s.httpLis.Addr().String())
		if err := s.http.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.grpc != nil {
		g.Go(func() error {
			s.logger.Info("grpc server started", "addr", s.grpcLis.Addr().String())
			if err := s.grpc.Serve(s.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("service shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()

		if s.grpc != nil {
			stopped := make(chan struct{})
			go func() {
				s.grpc.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-shutdownCtx.Done():
				s.grpc.Stop()
			}
		}
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
