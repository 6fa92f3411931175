package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"SecTokenLedger/internal/core"
	"SecTokenLedger/internal/corporate"
	"SecTokenLedger/internal/ingestion"
	"SecTokenLedger/internal/observability"
	"SecTokenLedger/internal/persistence"
	"SecTokenLedger/internal/projection"
	"SecTokenLedger/internal/query"
	"SecTokenLedger/internal/token"
)

// GRPCServer wraps the gRPC server (health + reflection) and the HTTP/JSON
// gateway mux that carries the ledger's query and ingest API.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	deps          *ServerDeps
}

// ServerDeps holds all dependencies needed by the API handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	Runner        *core.Runner
	SnapshotMgr   *persistence.SnapshotManager
	Metrics       *observability.Metrics
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewGRPCServer creates the server pair. Health checking and reflection are
// served over gRPC for orchestration probes and grpcurl; the domain API is
// HTTP/JSON on the gateway mux.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		deps:          deps,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API (blocking). HTTP/JSON is the
// surface for tooling, dashboards and curl.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux := runtime.NewServeMux()

	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *GRPCServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/instructions/{type}", s.handleSubmitInstruction},
		{"GET", "/v1/balances/{holder}", s.handleHolderBalances},
		{"GET", "/v1/balances/{holder}/{partition}", s.handleBalance},
		{"GET", "/v1/supply", s.handleSupply},
		{"GET", "/v1/holders/{partition}", s.handleHolders},
		{"GET", "/v1/entries/{holder}", s.handleEntryHistory},
		{"GET", "/v1/holds/{holder}/{partition}/{hold_id}", s.handleHold},
		{"GET", "/v1/actions/{action_id}/dividend/{holder}", s.handleDividendPosition},
		{"GET", "/v1/actions/{action_id}/voting/{holder}", s.handleVotingPosition},
		{"GET", "/v1/actions/{action_id}/coupon/{holder}", s.handleCouponPosition},
		{"GET", "/v1/roles/{holder}", s.handleRoles},
		{"GET", "/v1/kyc/{holder}", s.handleKYCStatus},
		{"GET", "/v1/status", s.handleStatus},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/admin/log", s.handleLogInfo},
		{"POST", "/v1/admin/projections/rebuild", s.handleRebuildProjections},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

// --- Ingest ---

func (s *GRPCServer) handleSubmitInstruction(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	instructionType := pathParams["type"]
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, "submit", http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	if err := s.deps.IngestService.Submit(r.Context(), instructionType, body); err != nil {
		s.writeError(w, "submit", http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, "submit", http.StatusAccepted, map[string]bool{"accepted": true})
}

// --- Projection-backed queries ---

func (s *GRPCServer) handleBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	resp, err := s.deps.QueryService.GetBalance(r.Context(), pathParams["holder"], pathParams["partition"])
	if err != nil {
		s.writeError(w, "balance", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "balance", http.StatusOK, resp)
}

func (s *GRPCServer) handleHolderBalances(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	resp, err := s.deps.QueryService.GetHolderBalances(r.Context(), pathParams["holder"])
	if err != nil {
		s.writeError(w, "balances", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "balances", http.StatusOK, map[string]interface{}{"balances": resp})
}

func (s *GRPCServer) handleSupply(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var partition *string
	if p := r.URL.Query().Get("partition"); p != "" {
		partition = &p
	}
	resp, err := s.deps.QueryService.GetSupply(r.Context(), partition)
	if err != nil {
		s.writeError(w, "supply", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "supply", http.StatusOK, resp)
}

func (s *GRPCServer) handleHolders(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit := intQueryParam(r, "limit", 500)
	resp, err := s.deps.QueryService.GetHolders(r.Context(), pathParams["partition"], limit)
	if err != nil {
		s.writeError(w, "holders", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "holders", http.StatusOK, resp)
}

func (s *GRPCServer) handleEntryHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit := intQueryParam(r, "limit", 100)
	var before *int64
	if b := r.URL.Query().Get("before"); b != "" {
		v, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			s.writeError(w, "entries", http.StatusBadRequest, fmt.Errorf("invalid before: %w", err))
			return
		}
		before = &v
	}

	entries, err := s.deps.QueryService.GetEntryHistory(r.Context(), pathParams["holder"], limit, before)
	if err != nil {
		s.writeError(w, "entries", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "entries", http.StatusOK, map[string]interface{}{"entries": entries})
}

// --- Core-backed (live) queries ---

func (s *GRPCServer) handleHold(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	holder, err := uuid.Parse(pathParams["holder"])
	if err != nil {
		s.writeError(w, "hold", http.StatusBadRequest, fmt.Errorf("invalid holder: %w", err))
		return
	}
	holdID, err := strconv.ParseUint(pathParams["hold_id"], 10, 64)
	if err != nil {
		s.writeError(w, "hold", http.StatusBadRequest, fmt.Errorf("invalid hold_id: %w", err))
		return
	}

	var (
		resp    map[string]interface{}
		holdErr error
	)
	err = s.deps.Runner.Query(r.Context(), func(e *core.Engine) {
		h, err := e.Hold(holder, token.Partition(pathParams["partition"]), holdID)
		if err != nil {
			holdErr = err
			return
		}
		resp = map[string]interface{}{
			"hold_id":       h.ID,
			"partition":     string(h.Partition),
			"holder":        h.Holder.String(),
			"amount":        h.Amount,
			"expiration_us": h.Expiration.UnixMicro(),
			"escrow":        h.Executor.String(),
			"destination":   h.Destination.String(),
			"third_party":   h.ThirdParty,
		}
	})
	if err != nil {
		s.writeError(w, "hold", http.StatusServiceUnavailable, err)
		return
	}
	if holdErr != nil {
		s.writeError(w, "hold", http.StatusNotFound, holdErr)
		return
	}
	s.writeJSON(w, "hold", http.StatusOK, resp)
}

func (s *GRPCServer) handleDividendPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.handlePosition(w, r, pathParams, "dividend", corporate.KindDividend)
}

func (s *GRPCServer) handleVotingPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.handlePosition(w, r, pathParams, "voting", corporate.KindVoting)
}

func (s *GRPCServer) handleCouponPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.handlePosition(w, r, pathParams, "coupon", corporate.KindCoupon)
}

func (s *GRPCServer) handlePosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string, endpoint string, kind corporate.Kind) {
	holder, err := uuid.Parse(pathParams["holder"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, fmt.Errorf("invalid holder: %w", err))
		return
	}
	actionID, err := strconv.ParseUint(pathParams["action_id"], 10, 64)
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, fmt.Errorf("invalid action_id: %w", err))
		return
	}

	now := time.Now()
	if ts := r.URL.Query().Get("as_of_us"); ts != "" {
		us, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			s.writeError(w, endpoint, http.StatusBadRequest, fmt.Errorf("invalid as_of_us: %w", err))
			return
		}
		now = time.UnixMicro(us)
	}

	var (
		pos    corporate.Position
		posErr error
	)
	err = s.deps.Runner.Query(r.Context(), func(e *core.Engine) {
		switch kind {
		case corporate.KindDividend:
			pos, posErr = e.DividendPosition(actionID, holder, now)
		case corporate.KindVoting:
			pos, posErr = e.VotingPosition(actionID, holder, now)
		default:
			pos, posErr = e.CouponPosition(actionID, holder, now)
		}
	})
	if err != nil {
		s.writeError(w, endpoint, http.StatusServiceUnavailable, err)
		return
	}
	if posErr != nil {
		s.writeError(w, endpoint, http.StatusNotFound, posErr)
		return
	}

	// Adjusted positions are exact rationals; numerator and denominator go
	// out as strings so precision survives JSON.
	s.writeJSON(w, endpoint, http.StatusOK, map[string]interface{}{
		"action_id":           pos.ActionID,
		"holder":              holder.String(),
		"snapshot_id":         pos.SnapshotID,
		"numerator":           pos.Numerator.String(),
		"denominator":         pos.Denominator.String(),
		"record_date_reached": pos.RecordDateReached,
	})
}

func (s *GRPCServer) handleRoles(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	holder, err := uuid.Parse(pathParams["holder"])
	if err != nil {
		s.writeError(w, "roles", http.StatusBadRequest, fmt.Errorf("invalid holder: %w", err))
		return
	}

	var roles []token.Role
	err = s.deps.Runner.Query(r.Context(), func(e *core.Engine) {
		roles = e.RolesOf(holder)
	})
	if err != nil {
		s.writeError(w, "roles", http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, "roles", http.StatusOK, map[string]interface{}{
		"holder": holder.String(),
		"roles":  roles,
	})
}

func (s *GRPCServer) handleKYCStatus(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	holder, err := uuid.Parse(pathParams["holder"])
	if err != nil {
		s.writeError(w, "kyc", http.StatusBadRequest, fmt.Errorf("invalid holder: %w", err))
		return
	}

	var status token.KYCStatus
	err = s.deps.Runner.Query(r.Context(), func(e *core.Engine) {
		status = e.KYCStatusOf(holder)
	})
	if err != nil {
		s.writeError(w, "kyc", http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, "kyc", http.StatusOK, map[string]interface{}{
		"holder": holder.String(),
		"status": status.String(),
	})
}

func (s *GRPCServer) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var (
		sequence int64
		paused   bool
		clearing bool
	)
	err := s.deps.Runner.Query(r.Context(), func(e *core.Engine) {
		sequence = e.GetSequence()
		paused = e.Paused()
		clearing = e.ClearingActive()
	})
	if err != nil {
		s.writeError(w, "status", http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, "status", http.StatusOK, map[string]interface{}{
		"sequence":        sequence,
		"paused":          paused,
		"clearing_active": clearing,
		"uptime":          time.Since(s.deps.StartTime).String(),
	})
}

// --- Admin ---

func (s *GRPCServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "integrity", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "integrity", http.StatusOK, report)
}

func (s *GRPCServer) handleLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		s.writeError(w, "log_info", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "log_info", http.StatusOK, map[string]int64{"last_sequence": latestSeq})
}

func (s *GRPCServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		s.writeError(w, "rebuild", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "rebuild", http.StatusOK, map[string]bool{"rebuilt": true})
}

// --- helpers ---

func (s *GRPCServer) writeJSON(w http.ResponseWriter, endpoint string, code int, v interface{}) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *GRPCServer) writeError(w http.ResponseWriter, endpoint string, code int, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func intQueryParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
