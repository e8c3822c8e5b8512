package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// apiResponse is the envelope wrapping every payload.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// createTemplateRequest is the POST /templates body.
type createTemplateRequest struct {
	TriggerText  string `json:"trigger_text"`
	ResponseText string `json:"response_text"`
	IsActive     *bool  `json:"is_active"`
}

// logsPage is the GET /logs payload.
type logsPage struct {
	Logs  []*store.LogEntry `json:"logs"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) writeData(w http.ResponseWriter, status int, data any) {
	g.writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, msg string) {
	g.writeJSON(w, status, apiResponse{Success: false, Message: msg})
}

// writeStoreError maps store errors onto HTTP statuses. A bad request
// never takes the server down; unknown errors become opaque 500s.
func (g *Gateway) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		g.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		g.writeError(w, http.StatusNotFound, err.Error())
	default:
		g.logger.Error("store operation failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleRoot implements GET / — the liveness marker.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		g.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	g.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "ReplyClaw API is running",
	})
}

// handleTemplates implements GET /templates and POST /templates.
func (g *Gateway) handleTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		templates, err := g.store.ListTemplates(r.Context())
		if err != nil {
			g.writeStoreError(w, err)
			return
		}
		g.writeData(w, http.StatusOK, templates)

	case http.MethodPost:
		var req createTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		t, err := g.store.CreateTemplate(r.Context(), req.TriggerText, req.ResponseText, active)
		if err != nil {
			g.writeStoreError(w, err)
			return
		}
		g.writeData(w, http.StatusCreated, t)

	default:
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTemplateByID implements GET/PUT/DELETE /templates/{id}.
func (g *Gateway) handleTemplateByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/templates/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 1 {
		g.writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, err := g.store.GetTemplate(r.Context(), id)
		if err != nil {
			g.writeStoreError(w, err)
			return
		}
		g.writeData(w, http.StatusOK, t)

	case http.MethodPut:
		var patch store.TemplatePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			g.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		t, err := g.store.UpdateTemplate(r.Context(), id, patch)
		if err != nil {
			g.writeStoreError(w, err)
			return
		}
		g.writeData(w, http.StatusOK, t)

	case http.MethodDelete:
		if err := g.store.DeleteTemplate(r.Context(), id); err != nil {
			g.writeStoreError(w, err)
			return
		}
		g.writeJSON(w, http.StatusOK, apiResponse{
			Success: true,
			Message: "template deleted",
		})

	default:
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleLogs implements GET /logs?page=&limit= — paginated, newest first.
func (g *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	logs, err := g.store.ListLogs(r.Context(), page, limit)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	total, err := g.store.CountLogs(r.Context())
	if err != nil {
		g.writeStoreError(w, err)
		return
	}

	g.writeData(w, http.StatusOK, logsPage{
		Logs:  logs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// handleStats implements GET /stats.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snapshot, err := g.stats.Snapshot(r.Context())
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	g.writeData(w, http.StatusOK, snapshot)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
