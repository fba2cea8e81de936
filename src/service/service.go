// Package service exposes node runtime statistics over HTTP, next to the
// Prometheus scrape endpoint.
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gabbleio/gabble/src/peers"
	"github.com/gabbleio/gabble/src/telemetry"
	"github.com/sirupsen/logrus"
)

// Source contributes key-value pairs to the stats document. Workload
// engines implement it to surface their own counters next to the node's.
type Source interface {
	GetStats() map[string]string
}

// Status is the view of the node the service reads from.
type Status interface {
	Source
	Peers() *peers.PeerSet
}

// Service serves the HTTP API.
type Service struct {
	sync.Mutex

	bindAddress string
	node        Status
	sources     []Source
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService is a factory method that returns a Service with its handlers
// registered on a private mux.
func NewService(bindAddress string, node Status, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        node,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.Handle("/stats", telemetry.Instrument("stats", s.makeHandler(s.GetStats)))
	s.mux.Handle("/peers", telemetry.Instrument("peers", s.makeHandler(s.GetPeers)))
	s.mux.Handle("/metrics", telemetry.Instrument("metrics", telemetry.MetricsHandler()))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// AddSource registers an extra stats contributor. Its keys are merged into
// the /stats document on every request.
func (s *Service) AddSource(src Source) {
	s.Lock()
	defer s.Unlock()

	s.sources = append(s.sources, src)
}

// Handler returns the service mux, for embedding the API into another
// server in the same process.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call; errors are logged,
// not returned, so a failed bind does not take the node down with it.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns the node's runtime counters merged with every registered
// source.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()
	for _, src := range s.sources {
		for k, v := range src.GetStats() {
			stats[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetPeers returns the roster the node was initialized with, empty before
// the init handshake.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if ps := s.node.Peers(); ps != nil {
		ids = ps.IDs
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(ids)
}
