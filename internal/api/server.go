// Package api serves the protocol's operations over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module/oracle"
	"github.com/sells-group/dmrv/internal/orchestrator"
	"github.com/sells-group/dmrv/internal/protocol"
)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
	Tokens      *Tokens
	Gatherer    prometheus.Gatherer
}

// Server exposes a Protocol over HTTP.
type Server struct {
	p      *protocol.Protocol
	tokens *Tokens
}

// NewHandler returns the routed handler for p.
func NewHandler(p *protocol.Protocol, opts Options) http.Handler {
	s := &Server{p: p, tokens: opts.Tokens}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.tokens.authenticate)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Post("/", s.registerProject)
			r.Get("/{id}", s.getProject)
			r.Post("/{id}/status", s.setProjectStatus)
			r.Post("/{id}/metadata", s.setProjectMetadata)
			r.Post("/{id}/owner", s.transferOwnership)
			r.Get("/{id}/claims", s.listClaims)
		})

		r.Route("/methodologies", func(r chi.Router) {
			r.Get("/", s.listMethodologies)
			r.Post("/", s.registerMethodology)
			r.Get("/{id}", s.getMethodology)
			r.Put("/{id}", s.updateMethodology)
			r.Post("/{id}/deprecate", s.deprecateMethodology)
		})
		r.Put("/settings/methodology-registry", s.setMethodologyRegistry)

		r.Route("/verifiers", func(r chi.Router) {
			r.Get("/", s.listVerifiers)
			r.Get("/{addr}", s.getVerifier)
			r.Post("/stake", s.stake)
			r.Post("/unstake", s.unstake)
		})

		r.Route("/claims", func(r chi.Router) {
			r.Post("/", s.submitClaim)
			r.Get("/{project}/{claim}", s.getClaim)
			r.Post("/{project}/{claim}/reverse", s.reverseClaim)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/reputation/{id}", s.getReputationTask)
			r.Post("/reputation/{id}/attestations", s.attest)
			r.Get("/oracle/{id}", s.getOracleTask)
			r.Post("/oracle/{id}/aggregate", s.aggregate)
		})

		r.Route("/oracle", func(r chi.Router) {
			r.Post("/devices", s.registerDevice)
			r.Post("/readings", s.submitReading)
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", s.listDisputes)
			r.Post("/", s.raiseDispute)
			r.Get("/{id}", s.getDispute)
			r.Post("/{id}/votes", s.castVote)
			r.Post("/{id}/resolve", s.resolveDispute)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/transfers", s.transfer)
			r.Get("/holders/{holder}", s.holdings)
			r.Get("/entries", s.entries)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Get("/{role}", s.members)
			r.Post("/", s.grantRole)
			r.Delete("/{role}/{addr}", s.revokeRole)
		})

		r.Get("/events", s.listEvents)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Projects

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Projects.List(r.Context())
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) registerProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		MetadataURI string `json:"metadata_uri"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.RegisterProject(r.Context(), CallerFrom(r.Context()), req.ID, req.MetadataURI)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Projects.Get(r.Context(), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) setProjectStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status model.ProjectStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.SetProjectStatus(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.Status)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) setProjectMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MetadataURI string `json:"metadata_uri"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.SetProjectMetadata(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.MetadataURI)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewOwner string `json:"new_owner"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.TransferProjectOwnership(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.NewOwner)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Orchestrator.ListClaims(r.Context(), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

// Methodologies

func (s *Server) listMethodologies(w http.ResponseWriter, r *http.Request) {
	reg, err := s.p.ActiveRegistry(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := reg.List(r.Context())
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) getMethodology(w http.ResponseWriter, r *http.Request) {
	reg, err := s.p.ActiveRegistry(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := reg.Get(r.Context(), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) registerMethodology(w http.ResponseWriter, r *http.Request) {
	var m model.Methodology
	if err := decode(r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.RegisterMethodology(r.Context(), CallerFrom(r.Context()), m)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) updateMethodology(w http.ResponseWriter, r *http.Request) {
	var m model.Methodology
	if err := decode(r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	m.ID = chi.URLParam(r, "id")
	out, err := s.p.UpdateMethodology(r.Context(), CallerFrom(r.Context()), m)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) deprecateMethodology(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.DeprecateMethodology(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) setMethodologyRegistry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := s.p.SetMethodologyRegistry(r.Context(), CallerFrom(r.Context()), req.Address)
	respond(w, r, http.StatusOK, map[string]string{"methodology_registry": req.Address}, err)
}

// Verifiers

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) listVerifiers(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Pool.GetAllVerifiers(r.Context())
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) getVerifier(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Pool.Get(r.Context(), chi.URLParam(r, "addr"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.Stake(r.Context(), CallerFrom(r.Context()), req.Amount)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) unstake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.Unstake(r.Context(), CallerFrom(r.Context()), req.Amount)
	respond(w, r, http.StatusOK, out, err)
}

// Claims

func (s *Server) submitClaim(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SubmitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.SubmitClaim(r.Context(), CallerFrom(r.Context()), req)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Orchestrator.GetClaim(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "claim"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) reverseClaim(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.ReverseFulfillment(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "project"), chi.URLParam(r, "claim"))
	respond(w, r, http.StatusOK, out, err)
}

// Tasks

func (s *Server) getReputationTask(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Reputation.Get(r.Context(), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) attest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value         int64  `json:"value"`
		CredentialCID string `json:"credential_cid"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.SubmitAttestation(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.Value, req.CredentialCID)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) getOracleTask(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Oracle.Get(r.Context(), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Aggregate(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

// Oracle

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string      `json:"id"`
		Unit string      `json:"unit"`
		Site oracle.Site `json:"site"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.RegisterDevice(r.Context(), CallerFrom(r.Context()), req.ID, req.Unit, req.Site)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) submitReading(w http.ResponseWriter, r *http.Request) {
	var req oracle.Reading
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := s.p.SubmitReading(r.Context(), CallerFrom(r.Context()), req)
	respond(w, r, http.StatusAccepted, map[string]string{"status": "accepted"}, err)
}

// Disputes

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request) {
	openOnly, _ := strconv.ParseBool(r.URL.Query().Get("open"))
	out, err := s.p.Council.List(r.Context(), openOnly)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) raiseDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID  string `json:"task_id"`
		ClaimID string `json:"claim_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.RaiseDispute(r.Context(), CallerFrom(r.Context()), req.TaskID, req.ClaimID)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Council.Get(r.Context(), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vote model.Vote `json:"vote"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.CastVote(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.Vote)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.ResolveDispute(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, out, err)
}

// Ledger

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To        string `json:"to"`
		ProjectID string `json:"project_id"`
		Amount    int64  `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.p.Transfer(r.Context(), CallerFrom(r.Context()), req.To, req.ProjectID, req.Amount)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) holdings(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Ledger.Holdings(r.Context(), chi.URLParam(r, "holder"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) entries(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Ledger.Entries(r.Context(), r.URL.Query().Get("project"))
	respond(w, r, http.StatusOK, out, err)
}

// Roles

func (s *Server) members(w http.ResponseWriter, r *http.Request) {
	out, err := s.p.Roles.Members(r.Context(), model.Role(chi.URLParam(r, "role")))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) grantRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string     `json:"address"`
		Role    model.Role `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := s.p.GrantRole(r.Context(), CallerFrom(r.Context()), req.Address, req.Role)
	respond(w, r, http.StatusCreated, req, err)
}

func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	err := s.p.RevokeRole(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "addr"), model.Role(chi.URLParam(r, "role")))
	respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	out, err := s.p.ListEvents(r.Context(), model.EventFilter{
		EntityKind: q.Get("entity_kind"),
		EntityID:   q.Get("entity_id"),
		Type:       q.Get("type"),
		Limit:      limit,
	})
	respond(w, r, http.StatusOK, out, err)
}

func respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}
