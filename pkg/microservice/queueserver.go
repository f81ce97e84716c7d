package microservice

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agentmq/pkg/messagequeue"
	"github.com/illmade-knight/go-agentmq/pkg/types"
)

// Service defines the common interface for a long-running server.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Mux() *http.ServeMux
	GetHTTPPort() string
}

// QueueServer exposes broker state over HTTP for probes and operators:
// /healthz for liveness, /metricz for the performance snapshot and
// /channelz for the active channel listing.
type QueueServer struct {
	Logger     zerolog.Logger
	HTTPPort   string
	broker     *messagequeue.Broker
	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex
}

// channelListing mirrors the shape of the list_channels tool result.
type channelListing struct {
	Channels      []types.ChannelInfo `json:"channels"`
	TotalChannels int                 `json:"total_channels"`
}

// NewQueueServer creates the inspection server for the given broker.
func NewQueueServer(broker *messagequeue.Broker, logger zerolog.Logger, httpPort string) (*QueueServer, error) {
	if broker == nil {
		return nil, errors.New("broker cannot be nil")
	}

	s := &QueueServer{
		Logger:   logger.With().Str("component", "QueueServer").Logger(),
		HTTPPort: httpPort,
		broker:   broker,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthzHandler)
	mux.HandleFunc("/metricz", s.metricsHandler)
	mux.HandleFunc("/channelz", s.channelsHandler)
	s.mux = mux
	s.httpServer = &http.Server{Addr: httpPort, Handler: mux}

	return s, nil
}

// Start launches the HTTP server in a background goroutine. It returns an
// error if the initial listen fails.
func (s *QueueServer) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.HTTPPort)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.Logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, honouring the context's
// deadline for in-flight requests.
func (s *QueueServer) Shutdown(ctx context.Context) error {
	s.Logger.Info().Msg("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// Mux returns the underlying router so callers can register extra handlers
// before Start.
func (s *QueueServer) Mux() *http.ServeMux {
	return s.mux
}

// GetHTTPPort returns the port the server is actually listening on, which
// matters when the configured port was ":0".
func (s *QueueServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.actualAddr == "" {
		return s.HTTPPort
	}
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.HTTPPort
	}
	return ":" + port
}

func (s *QueueServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.broker.Metrics(r.Context()))
}

func (s *QueueServer) channelsHandler(w http.ResponseWriter, r *http.Request) {
	channels, err := s.broker.ListChannels(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, channelListing{Channels: channels, TotalChannels: len(channels)})
}

func (s *QueueServer) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to encode response payload.")
	}
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
