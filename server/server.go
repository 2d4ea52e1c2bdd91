package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// Ingestor runs the settlement ingestion pipeline.
type Ingestor interface {
	ProcessSettlement(ctx context.Context, req *model.SettlementRequest) (int64, error)
}

// Workflow drives the approval state machine.
type Workflow interface {
	RequestRelease(ctx context.Context, settlementID string, version int64, user model.User, comment string) error
	Authorize(ctx context.Context, settlementID string, version int64, user model.User, comment string) error
	Reject(ctx context.Context, settlementID string, version int64, user model.User, comment string) error
}

// Recalculator enqueues forced recomputation events.
type Recalculator interface {
	Recalculate(ctx context.Context, f model.GroupFilter, user model.User, comment string) (int, error)
}

// Resolver computes effective settlement statuses for query responses.
type Resolver interface {
	Resolve(ctx context.Context, stl *model.Settlement) (string, error)
}

// Queries is the read surface behind lookup and search endpoints.
type Queries interface {
	FindLatest(ctx context.Context, settlementID, pts, processingEntity string) (*model.Settlement, error)
	FindByIDVersion(ctx context.Context, settlementID string, version int64) (*model.Settlement, error)
	Search(ctx context.Context, c model.SearchCriteria) ([]model.Settlement, error)
	DistinctGroups(ctx context.Context, f model.GroupFilter) ([]model.GroupTotal, error)
	Ping(ctx context.Context) error
}

// Server is the HTTP API surface of the limit monitor.
type Server struct {
	ingestor Ingestor
	workflow Workflow
	recalc   Recalculator
	resolver Resolver
	queries  Queries
	log      *logging.ComponentLogger

	router    *mux.Router
	startTime time.Time
}

// New creates the server and wires all routes.
func New(ingestor Ingestor, workflow Workflow, recalc Recalculator, resolver Resolver, queries Queries, log *logging.ComponentLogger) *Server {
	s := &Server{
		ingestor:  ingestor,
		workflow:  workflow,
		recalc:    recalc,
		resolver:  resolver,
		queries:   queries,
		log:       log,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(metricsMiddleware)

	s.router.HandleFunc("/api/settlements", s.handleIngest).Methods(http.MethodPost)
	s.router.HandleFunc("/api/settlements", s.handleSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/api/settlements/{id}", s.handleGetSettlement).Methods(http.MethodGet)
	s.router.HandleFunc("/api/groups", s.handleGroups).Methods(http.MethodGet)
	s.router.HandleFunc("/api/recalculate", s.handleRecalculate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/workflow/request-release", s.handleRequestRelease).Methods(http.MethodPost)
	s.router.HandleFunc("/api/workflow/authorize", s.handleAuthorize).Methods(http.MethodPost)
	s.router.HandleFunc("/api/workflow/reject", s.handleReject).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the full middleware chain. CORS and request ids wrap
// outside the router so preflight requests get answered even for paths the
// router does not know.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(corsMiddleware(s.router))
}
