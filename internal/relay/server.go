package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"relaystore/internal/config"
	"relaystore/internal/log"
	"relaystore/internal/storage"
)

// HealthService is the service name reported by the gRPC health endpoint.
const HealthService = "relay"

// Server is a relay server: the HTTP API plus an optional gRPC health
// endpoint.
type Server struct {
	cfg    *config.RelayConfig
	store  storage.Store
	logger *log.Logger

	mu         sync.Mutex
	httpServer *http.Server
	httpLis    net.Listener
	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server
	wg         sync.WaitGroup
}

// OpenStore opens the store described by cfg: a bbolt file when CachePath
// is set, otherwise a bounded in-memory store.
func OpenStore(cfg *config.RelayConfig) (storage.Store, error) {
	opts := storage.Options{RequireCAS: cfg.RequireCAS}
	if cfg.CachePath != "" {
		return storage.NewBoltStore(cfg.CachePath, opts)
	}
	return storage.NewInMemoryStore(cfg.CacheSize, opts)
}

// NewServer creates a relay server serving store. The server owns store and
// closes it on Stop.
func NewServer(cfg *config.RelayConfig, store storage.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.DefaultLogger
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		health: health.NewServer(),
	}
}

// Handler builds the relay HTTP handler.
func (s *Server) Handler() (http.Handler, error) {
	var limiter *rateLimiter
	if s.cfg.RateLimiter != nil {
		var err error
		if limiter, err = newRateLimiter(s.cfg.RateLimiter); err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
	}
	return newHandler(s.store, limiter, s.logger), nil
}

// Start binds the listeners and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler, err := s.Handler()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.httpLis = lis
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if s.cfg.HealthListen != "" {
		glis, err := net.Listen("tcp", s.cfg.HealthListen)
		if err != nil {
			_ = lis.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.HealthListen, err)
		}
		s.grpcLis = glis
		s.grpcServer = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.grpcServer.Serve(glis); err != nil {
				s.logger.Errorf("[relay] health server stopped: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("[relay] http server stopped: %v", err)
		}
	}()

	s.health.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Infof("[relay] Starting relay on %s (health=%s, records=%d)", lis.Addr(), s.cfg.HealthListen, s.store.Len())
	return nil
}

// Addr returns the HTTP listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLis == nil {
		return nil
	}
	return s.httpLis.Addr()
}

// HealthAddr returns the gRPC health listen address, nil when disabled.
func (s *Server) HealthAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcLis == nil {
		return nil
	}
	return s.grpcLis.Addr()
}

// Stop gracefully stops the server and closes the store.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("[relay] Stopping relay")
	s.health.Shutdown()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	s.wg.Wait()

	return errors.Join(err, s.store.Close())
}
