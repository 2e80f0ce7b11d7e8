package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/crisis"
	"civicguard.org/internal/obs"
	"civicguard.org/internal/stream"
)

const serviceName = "civicguard-api"

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps wires the API to the core.
type Deps struct {
	Engine  *auth.Engine
	Machine *crisis.Machine
	Tokens  *auth.Tokens
	Stream  *stream.Stream
	Ready   ReadyProbe
	Version string

	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
}

// API — HTTP слой над crisis.Machine.
type API struct {
	mux        *http.ServeMux
	engine     *auth.Engine
	machine    *crisis.Machine
	tokens     *auth.Tokens
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec float64
	maxBody    int64
}

func New(d Deps) (*API, error) {
	if d.Machine == nil {
		return nil, errors.New("httpapi: crisis machine is required")
	}
	if d.Engine == nil {
		d.Engine = auth.NewEngine(nil)
	}
	a := &API{
		mux:        http.NewServeMux(),
		engine:     d.Engine,
		machine:    d.Machine,
		tokens:     d.Tokens,
		stream:     d.Stream,
		readyProbe: d.Ready,
		version:    d.Version,
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
		maxBody:    d.MaxBodyBytes,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/authorize", a.handleAuthorize)

	a.mux.HandleFunc("/v1/crisis/state", a.handleState)
	a.mux.HandleFunc("/v1/crisis/activations", a.handleActivations)
	a.mux.HandleFunc("/v1/crisis/activations/current", a.handleCurrentActivation)
	a.mux.HandleFunc("/v1/crisis/activations/{id}/tokens", a.handleSupplyToken)
	a.mux.HandleFunc("/v1/crisis/activations/{id}/countdown", a.handleStartCountdown)
	a.mux.HandleFunc("/v1/crisis/activations/{id}/cancel", a.handleCancelActivation)
	a.mux.HandleFunc("/v1/crisis/deactivate", a.handleDeactivate)
	a.mux.HandleFunc("/v1/crisis/overrides", a.handleOverrides)
	a.mux.HandleFunc("/v1/crisis/overrides/{name}", a.handleToggleOverride)
	a.mux.HandleFunc("/v1/crisis/log", a.handleLog)
	a.mux.HandleFunc("/v1/crisis/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a, nil
}

// Handler возвращает http.Handler со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"countdown": a.machine.Countdown().String(),
	})
}

type authorizeRequest struct {
	Role       string `json:"role"`
	Permission string `json:"permission"`
}

type authorizeResponse struct {
	Role       auth.Role       `json:"role"`
	Permission auth.Permission `json:"permission"`
	Decision   string          `json:"decision"`
	Allowed    bool            `json:"allowed"`
}

// handleAuthorize answers "may this role do that" for UIs. Without a body
// role it evaluates the caller's own role.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	role := actor.Role
	if req.Role != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if parsed != actor.Role && a.engine.Check(actor.Role, auth.PermManageUsers) == auth.Deny {
			writeError(w, r, http.StatusForbidden, "only user managers may query other roles")
			return
		}
		role = parsed
	}
	perm := auth.Permission(req.Permission)
	decision := a.engine.Check(role, perm)
	obs.RecordAuthz(perm, decision)
	writeJSON(w, http.StatusOK, authorizeResponse{
		Role:       role,
		Permission: perm,
		Decision:   decision.String(),
		Allowed:    decision == auth.Allow,
	})
}
