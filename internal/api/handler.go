package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/praxio-solutions/addon-lifecycle-service/internal/service"
)

// Engine is the lifecycle surface the handler exposes. The authenticating
// proxy in front of this service resolves the tenant and user; by the time
// a request lands here the (tenantID, userID) pair is trusted.
type Engine interface {
	Install(ctx context.Context, tenantID, addonID uuid.UUID, pricingID *uuid.UUID, config json.RawMessage, userID uuid.UUID) (*service.Result, error)
	Upgrade(ctx context.Context, tenantID, addonID, targetVersionID, userID uuid.UUID) (*service.Result, error)
	Disable(ctx context.Context, tenantID, addonID, userID uuid.UUID) (*service.Result, error)
	Enable(ctx context.Context, tenantID, addonID, userID uuid.UUID) (*service.Result, error)
	Uninstall(ctx context.Context, tenantID, addonID, userID uuid.UUID) (*service.Result, error)
	GetHistory(ctx context.Context, tenantID uuid.UUID, addonID *uuid.UUID) (*service.Result, error)
}

type handler struct {
	engine Engine
}

// NewHandler returns a mux exposing the lifecycle REST API under /tenants/.
func NewHandler(engine Engine) http.Handler {
	h := &handler{engine: engine}
	mux := http.NewServeMux()
	mux.HandleFunc("/tenants/", h.tenantResources)
	return mux
}

func (h *handler) tenantResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tenants"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[1] != "addons" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	tenantID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid tenant ID"))
		return
	}

	// GET /tenants/{id}/addons/history[?addonId=]
	if len(parts) == 3 && parts[2] == "history" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.history(w, r, tenantID)
		return
	}

	if len(parts) < 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	addonID, err := uuid.Parse(parts[2])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid addon ID"))
		return
	}

	userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing or invalid X-User-ID header"))
		return
	}

	// DELETE /tenants/{id}/addons/{id}
	if len(parts) == 3 {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.respond(w, http.StatusOK)(h.engine.Uninstall(r.Context(), tenantID, addonID, userID))
		return
	}

	// POST /tenants/{id}/addons/{id}/{op}
	if len(parts) != 4 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[3] {
	case "install":
		var payload struct {
			PricingID *uuid.UUID      `json:"pricingId"`
			Config    json.RawMessage `json:"config"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.respond(w, http.StatusCreated)(h.engine.Install(r.Context(), tenantID, addonID, payload.PricingID, payload.Config, userID))

	case "upgrade":
		var payload struct {
			VersionID uuid.UUID `json:"versionId"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.VersionID == uuid.Nil {
			writeError(w, http.StatusBadRequest, errors.New("versionId is required"))
			return
		}
		h.respond(w, http.StatusOK)(h.engine.Upgrade(r.Context(), tenantID, addonID, payload.VersionID, userID))

	case "disable":
		h.respond(w, http.StatusOK)(h.engine.Disable(r.Context(), tenantID, addonID, userID))

	case "enable":
		h.respond(w, http.StatusOK)(h.engine.Enable(r.Context(), tenantID, addonID, userID))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) history(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID) {
	var addonID *uuid.UUID
	if raw := r.URL.Query().Get("addonId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid addonId filter"))
			return
		}
		addonID = &id
	}
	h.respond(w, http.StatusOK)(h.engine.GetHistory(r.Context(), tenantID, addonID))
}

// respond maps an engine result to a transport status. Unexpected errors
// from the pre-check reads surface as 500s.
func (h *handler) respond(w http.ResponseWriter, successStatus int) func(*service.Result, error) {
	return func(result *service.Result, err error) {
		if err != nil {
			log.Error().Err(err).Msg("Lifecycle operation failed unexpectedly")
			writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
			return
		}
		if result.Success {
			writeJSON(w, successStatus, result)
			return
		}
		writeJSON(w, statusForCode(result.Code), result)
	}
}

func statusForCode(code service.Code) int {
	switch code {
	case service.CodeAddonNotFound, service.CodeNotInstalled, service.CodeVersionNotFound, service.CodeNoVersion:
		return http.StatusNotFound
	case service.CodeAlreadyInstalled, service.CodeAlreadyDisabled, service.CodeNotDisabled, service.CodeInvalidState:
		return http.StatusConflict
	case service.CodeMissingDependencies, service.CodeHasDependents:
		return http.StatusUnprocessableEntity
	case service.CodeInvalidPricing:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
