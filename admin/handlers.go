// Package admin serves read-only HTTP introspection of the running
// topology pipelines.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/topocorr/manager"
	"github.com/rs/zerolog/log"
)

// Topology is the view of one pipeline the handlers need
type Topology interface {
	Summary() manager.Summary
	Underlay(topologyID string) (manager.UnderlayDetail, bool)
	OverlayIDs() []string
}

// Pipelines lists and resolves topology pipelines
type Pipelines interface {
	ListTopologies() []string
	Topology(name string) (Topology, bool)
}

// FromRegistry adapts a manager registry to Pipelines
func FromRegistry(r *manager.Registry) Pipelines {
	return registryPipelines{r: r}
}

type registryPipelines struct {
	r *manager.Registry
}

func (p registryPipelines) ListTopologies() []string { return p.r.ListTopologies() }

func (p registryPipelines) Topology(name string) (Topology, bool) {
	m, ok := p.r.Get(name)
	if !ok {
		return nil, false
	}
	return m, true
}

// AdminHandlers handles the admin API endpoints
type AdminHandlers struct {
	pipelines Pipelines
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(pipelines Pipelines) *AdminHandlers {
	return &AdminHandlers{pipelines: pipelines}
}

// topologyDetail is a summary plus the ids of every live overlay item
type topologyDetail struct {
	manager.Summary
	OverlayIDs []string `json:"overlay_ids"`
}

func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"status":     "ok",
		"topologies": len(h.pipelines.ListTopologies()),
	}, false, "")
}

func (h *AdminHandlers) handleListTopologies(w http.ResponseWriter, r *http.Request) {
	names := h.pipelines.ListTopologies()
	summaries := make([]manager.Summary, 0, len(names))
	for _, name := range names {
		if t, ok := h.pipelines.Topology(name); ok {
			summaries = append(summaries, t.Summary())
		}
	}
	writeJSONResponse(w, summaries, false, "")
}

func (h *AdminHandlers) handleTopology(w http.ResponseWriter, r *http.Request) {
	t, ok := h.topology(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, topologyDetail{Summary: t.Summary(), OverlayIDs: t.OverlayIDs()}, false, "")
}

// handleUnderlay pages through the item keys of one underlay topology
func (h *AdminHandlers) handleUnderlay(w http.ResponseWriter, r *http.Request) {
	t, ok := h.topology(w, r)
	if !ok {
		return
	}
	topologyID := chi.URLParam(r, "topology")
	detail, ok := t.Underlay(topologyID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("underlay topology '%s' not found", topologyID))
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	from := parseFrom(r)

	keys := detail.Keys
	start := 0
	if from != "" {
		start = sort.SearchStrings(keys, from)
		if start < len(keys) && keys[start] == from {
			start++
		}
	}
	end := start + limit
	hasMore := end < len(keys)
	if !hasMore {
		end = len(keys)
	}

	detail.Keys = keys[start:end]
	lastKey := ""
	if hasMore && len(detail.Keys) > 0 {
		lastKey = detail.Keys[len(detail.Keys)-1]
	}
	writeJSONResponse(w, detail, hasMore, lastKey)
}

func (h *AdminHandlers) topology(w http.ResponseWriter, r *http.Request) (Topology, bool) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "topology name is required")
		return nil, false
	}
	t, ok := h.pipelines.Topology(name)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("topology '%s' not found", name))
		return nil, false
	}
	return t, true
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// parseFrom parses the exclusive start key for pagination
func parseFrom(r *http.Request) string {
	return r.URL.Query().Get("from")
}
