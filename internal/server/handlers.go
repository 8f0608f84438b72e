package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/model"
)

type handlers struct {
	kernel  *kernel.Kernel
	table   *facade.Table
	logger  *slog.Logger
	tier    facade.Tier
	version string
}

// callRequest is the generic dispatch body.
type callRequest struct {
	Tool    string         `json:"tool"`
	Action  string         `json:"action"`
	Args    map[string]any `json:"args,omitempty"`
	Context *callerInfo    `json:"context,omitempty"`
}

type callerInfo struct {
	Role    string `json:"role,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Health bypasses rate limits by dispatching as the trusted role.
	env := h.kernel.Dispatch(r.Context(), "decibel_health", "", nil,
		model.CallerContext{Role: model.RoleTrusted})
	writeJSON(w, r, statusForEnvelope(w, env), env)
}

func (h *handlers) handleTools(w http.ResponseWriter, r *http.Request) {
	tier := h.tier
	if q := r.URL.Query().Get("tier"); q != "" {
		parsed, err := facade.ParseTier(q)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeExecutionError, err.Error())
			return
		}
		tier = parsed
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"tier":  string(tier),
		"tools": h.table.Describe(tier),
	})
}

func (h *handlers) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeExecutionError, "invalid request body: "+err.Error())
		return
	}
	if req.Tool == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeExecutionError, "tool is required")
		return
	}

	env := h.kernel.Dispatch(r.Context(), req.Tool, req.Action, req.Args, h.callerFor(r, req.Context))
	writeJSON(w, r, statusForEnvelope(w, env), env)
}

// aliasAppend returns a handler that forwards a REST write onto the
// record facade. The body becomes the operation arguments verbatim.
func (h *handlers) aliasAppend(action string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		if err := decodeJSON(r, &args); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeExecutionError, "invalid request body: "+err.Error())
			return
		}
		env := h.kernel.Dispatch(r.Context(), "decibel_record", action, args, h.callerFor(r, nil))
		writeJSON(w, r, statusForEnvelope(w, env), env)
	})
}

func (h *handlers) handleSearchAlias(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{"q": r.URL.Query().Get("q")}
	if limit := queryInt(r, "limit"); limit > 0 {
		args["limit"] = limit
	}
	env := h.kernel.Dispatch(r.Context(), "decibel_search", "search", args, h.callerFor(r, nil))
	writeJSON(w, r, statusForEnvelope(w, env), env)
}

func (h *handlers) handleRecentAlias(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{}
	if limit := queryInt(r, "limit"); limit > 0 {
		args["limit"] = limit
	}
	env := h.kernel.Dispatch(r.Context(), "decibel_search", "recent", args, h.callerFor(r, nil))
	writeJSON(w, r, statusForEnvelope(w, env), env)
}

// callerFor builds the caller identity from the optional request body
// context and the transport headers. HTTP callers are capped at the
// agent role; trusted is reserved for the local stdio pipe.
func (h *handlers) callerFor(r *http.Request, info *callerInfo) model.CallerContext {
	caller := model.CallerContext{
		AgentID: r.Header.Get("X-Decibel-Agent-ID"),
		RunID:   r.Header.Get("X-Decibel-Run-ID"),
	}
	if info != nil {
		if info.AgentID != "" {
			caller.AgentID = info.AgentID
		}
		if info.RunID != "" {
			caller.RunID = info.RunID
		}
		caller.Role = model.CallerRole(info.Role)
	}
	switch caller.Role {
	case model.RoleAgent, model.RoleUnknown:
	default:
		// Anything else, including a trusted claim, degrades by
		// presence of an agent identity.
		if caller.AgentID != "" {
			caller.Role = model.RoleAgent
		} else {
			caller.Role = model.RoleUnknown
		}
	}
	return caller
}

// statusForEnvelope maps an envelope onto an HTTP status, setting
// Retry-After for rate limited responses.
func statusForEnvelope(w http.ResponseWriter, env model.Envelope) int {
	if env.Status() == model.OutcomeExecuted {
		return http.StatusOK
	}
	switch env.Code() {
	case model.ErrCodeUnknownTool, model.ErrCodeUnknownAction:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		if ms, ok := env["retry_after_ms"].(int64); ok && ms > 0 {
			secs := (ms + 999) / 1000
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		return http.StatusTooManyRequests
	case model.ErrCodeAccessDenied:
		return http.StatusForbidden
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
