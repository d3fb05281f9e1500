package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"safehands/core"
	"safehands/crypto"
	"safehands/native/escrow"
	"safehands/observability"
)

const requestIDHeader = "X-Request-Id"

// Server is the read-only REST facade in front of the escrow node. Mutations
// go through JSON-RPC; the gateway only serves lookups, health, and metrics.
type Server struct {
	node      *core.Node
	log       *slog.Logger
	jwtSecret []byte
}

type Options struct {
	// JWTSecret enables bearer authentication on /v1 routes when non-empty.
	// An empty secret leaves the read API open, which suits local setups.
	JWTSecret string
}

func NewServer(node *core.Node, opts Options) *Server {
	return &Server{
		node:      node,
		log:       slog.Default().With(slog.String("component", "gateway")),
		jwtSecret: []byte(strings.TrimSpace(opts.JWTSecret)),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(sr chi.Router) {
		if len(s.jwtSecret) > 0 {
			sr.Use(s.requireJWT)
		}
		sr.Get("/escrows/{id}", s.handleGetEscrow)
		sr.Get("/parties/{party}/escrows", s.handleListPartyEscrows)
	})
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		outcome := "ok"
		if recorder.status >= 400 {
			outcome = strconv.Itoa(recorder.status)
		}
		observability.ModuleMetrics().ObserveRequest("gateway", r.URL.Path, outcome, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			s.log.Warn("rejected gateway credential", slog.String("remote", r.RemoteAddr))
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type escrowView struct {
	ID                   uint64 `json:"id"`
	Client               string `json:"client"`
	Freelancer           string `json:"freelancer"`
	Arbiter              string `json:"arbiter"`
	Asset                string `json:"asset"`
	Amount               string `json:"amount"`
	ApprovedByClient     bool   `json:"approvedByClient"`
	ApprovedByFreelancer bool   `json:"approvedByFreelancer"`
	Deadline             int64  `json:"deadline"`
	CreatedAt            int64  `json:"createdAt"`
	State                string `json:"state"`
}

func newEscrowView(e *escrow.Escrow) escrowView {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return escrowView{
		ID:                   e.ID,
		Client:               crypto.NewAddress(e.Client[:]).String(),
		Freelancer:           crypto.NewAddress(e.Freelancer[:]).String(),
		Arbiter:              crypto.NewAddress(e.Arbiter[:]).String(),
		Asset:                e.Asset,
		Amount:               amount,
		ApprovedByClient:     e.ApprovedByClient,
		ApprovedByFreelancer: e.ApprovedByFreelancer,
		Deadline:             e.Deadline,
		CreatedAt:            e.CreatedAt,
		State:                e.State.String(),
	}
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(esc))
}

func (s *Server) handleListPartyEscrows(w http.ResponseWriter, r *http.Request) {
	party, err := crypto.DecodeAddress(chi.URLParam(r, "party"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid party address")
		return
	}
	ids, err := s.node.EscrowIDsForParty(party.Raw())
	if err != nil {
		writeEscrowHTTPError(w, err)
		return
	}
	views := make([]escrowView, 0, len(ids))
	for _, id := range ids {
		esc, getErr := s.node.EscrowGet(id)
		if getErr != nil {
			writeEscrowHTTPError(w, getErr)
			return
		}
		views = append(views, newEscrowView(esc))
	}
	writeJSON(w, http.StatusOK, views)
}

func writeEscrowHTTPError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, escrow.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
