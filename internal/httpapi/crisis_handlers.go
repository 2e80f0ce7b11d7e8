package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"civicguard.org/internal/audit"
	"civicguard.org/internal/auth"
	"civicguard.org/internal/crisis"
	"civicguard.org/internal/crisislog"
	"civicguard.org/internal/gate"
)

type stateResponse struct {
	Mode      crisis.Mode         `json:"mode"`
	Overrides crisis.OverrideSet  `json:"overrides"`
	Pending   *crisis.PendingInfo `json:"pending,omitempty"`
	At        time.Time           `json:"at"`
}

type beginActivationRequest struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

type beginActivationResponse struct {
	Handle    crisis.SessionHandle `json:"handle"`
	Countdown string               `json:"countdown"`
}

type supplyTokenRequest struct {
	Slot  string `json:"slot"`
	Token string `json:"token"`
}

type logResponse struct {
	Entries []crisislog.Entry `json:"entries"`
	Count   int               `json:"count"`
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// auditFailure records a refused or failed mutation.
func (a *API) auditFailure(ctx context.Context, event string, err error, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["status"] = crisisStatus(err)
	_ = audit.LogRefusal(ctx, event, err, fields)
}

func (a *API) state(role auth.Role) stateResponse {
	return a.view(role, a.machine.Snapshot())
}

// view hides pending-session detail from roles without the admin panel.
func (a *API) view(role auth.Role, snap crisis.Snapshot) stateResponse {
	return stateResponse{
		Mode:      snap.Mode,
		Overrides: snap.Overrides,
		Pending:   gate.GuardRender(a.engine, role, auth.PermViewAdminPanel, snap.Pending),
		At:        snap.At,
	}
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.state(actor.Role))
}

func (a *API) handleActivations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req beginActivationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	category, err := crisis.ParseCategory(req.Category)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	handle, err := a.machine.BeginActivation(r.Context(), actor, category, req.Reason)
	if err != nil {
		a.auditFailure(r.Context(), "crisis.activation.begin", err, map[string]any{"category": string(category)})
		handleCrisisError(w, r, err)
		return
	}
	a.audit(r.Context(), "crisis.activation.begin", map[string]any{
		"session":  handle.String(),
		"category": string(category),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/crisis/activations/%s", handle))
	writeJSON(w, http.StatusCreated, beginActivationResponse{
		Handle:    handle,
		Countdown: a.machine.Countdown().String(),
	})
}

func (a *API) handleCurrentActivation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	info, err := gate.GuardAction(r.Context(), a.engine, actor.Role, auth.PermViewCrisisControl,
		func(context.Context) (crisis.PendingInfo, error) {
			info, ok := a.machine.Pending()
			if !ok {
				return crisis.PendingInfo{}, crisis.ErrUnknownSession
			}
			return info, nil
		})
	switch {
	case errors.Is(err, crisis.ErrUnknownSession):
		writeError(w, r, http.StatusNotFound, "no pending activation")
	case err != nil:
		handleCrisisError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, info)
	}
}

func (a *API) handleSupplyToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	handle, err := crisis.ParseSessionHandle(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req supplyTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	slot, err := crisis.ParseSlot(req.Slot)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := map[string]any{"session": handle.String(), "slot": string(slot)}
	if err := a.machine.SupplyToken(r.Context(), actor, handle, slot, req.Token); err != nil {
		a.auditFailure(r.Context(), "crisis.activation.token", err, fields)
		handleCrisisError(w, r, err)
		return
	}
	a.audit(r.Context(), "crisis.activation.token", fields)
	info, ok := a.machine.Pending()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"session": handle, "slot": slot})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleStartCountdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	handle, err := crisis.ParseSessionHandle(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := map[string]any{"session": handle.String()}
	if err := a.machine.StartCountdown(r.Context(), actor, handle); err != nil {
		a.auditFailure(r.Context(), "crisis.activation.countdown", err, fields)
		handleCrisisError(w, r, err)
		return
	}
	a.audit(r.Context(), "crisis.activation.countdown", fields)
	info, ok := a.machine.Pending()
	if !ok {
		// committed before we could read it back
		writeJSON(w, http.StatusAccepted, map[string]any{"session": handle, "armed": true})
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

func (a *API) handleCancelActivation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	handle, err := crisis.ParseSessionHandle(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := map[string]any{"session": handle.String()}
	if err := a.machine.CancelActivation(r.Context(), actor, handle); err != nil {
		a.auditFailure(r.Context(), "crisis.activation.cancel", err, fields)
		handleCrisisError(w, r, err)
		return
	}
	a.audit(r.Context(), "crisis.activation.cancel", fields)
	writeJSON(w, http.StatusOK, map[string]any{"session": handle, "status": "cancelled"})
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.machine.Deactivate(r.Context(), actor); err != nil {
		a.auditFailure(r.Context(), "crisis.deactivate", err, nil)
		handleCrisisError(w, r, err)
		return
	}
	a.audit(r.Context(), "crisis.deactivate", nil)
	writeJSON(w, http.StatusOK, a.state(actor.Role))
}

func (a *API) handleToggleOverride(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	o, err := crisis.ParseOverride(r.PathValue("name"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := map[string]any{"override": string(o)}
	set, err := a.machine.ToggleOverride(r.Context(), actor, o)
	if err != nil {
		a.auditFailure(r.Context(), "crisis.override.toggle", err, fields)
		handleCrisisError(w, r, err)
		return
	}
	fields["enabled"] = set.Get(o)
	a.audit(r.Context(), "crisis.override.toggle", fields)
	writeJSON(w, http.StatusOK, a.state(actor.Role))
}

func (a *API) handleOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.machine.ClearOverrides(r.Context(), actor); err != nil {
		a.auditFailure(r.Context(), "crisis.override.clear", err, nil)
		handleCrisisError(w, r, err)
		return
	}
	a.audit(r.Context(), "crisis.override.clear", nil)
	writeJSON(w, http.StatusOK, a.state(actor.Role))
}

func (a *API) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := gate.GuardAction(r.Context(), a.engine, actor.Role, auth.PermViewAuditLog,
		func(ctx context.Context) ([]crisislog.Entry, error) {
			out := make([]crisislog.Entry, 0, limit)
			for e := range a.machine.LogEntries(ctx) {
				out = append(out, e)
				if len(out) == limit {
					break
				}
			}
			return out, ctx.Err()
		})
	if err != nil {
		handleCrisisError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logResponse{Entries: entries, Count: len(entries)})
}
