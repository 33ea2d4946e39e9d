package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aiserve/modelrouter/internal/auth"
	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/middleware"
	"github.com/aiserve/modelrouter/internal/pipeline"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// ModelHandler serves the non-streaming request surface named by the
// router's external operations: generate, load, unload, listModels.
type ModelHandler struct {
	executor    *pipeline.Executor
	registry    *registry.Registry
	dispatcher  *loader.Dispatcher
	authService *auth.Service
}

func NewModelHandler(executor *pipeline.Executor, reg *registry.Registry, dispatcher *loader.Dispatcher, authService *auth.Service) *ModelHandler {
	return &ModelHandler{executor: executor, registry: reg, dispatcher: dispatcher, authService: authService}
}

type generateRequest struct {
	Model        string   `json:"model"`
	Prompt       string   `json:"prompt"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  float64  `json:"temperature"`
	Stop         []string `json:"stop"`
	Strategy     string   `json:"strategy"`
	Capabilities []string `json:"capabilities"`
}

type generateResponse struct {
	Model        string `json:"model"`
	Text         string `json:"text"`
	Tokens       int    `json:"tokens"`
	FinishReason string `json:"finish_reason"`
	CacheHit     bool   `json:"cache_hit"`
}

// Generate runs one request through the full pipeline: validate, authorize,
// route, cache lookup, invoke, cache store, record metrics.
func (h *ModelHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	caps := make([]descriptor.Capability, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps = append(caps, descriptor.Capability(c))
	}

	apiKeyID := middleware.GetAPIKeyID(r.Context())
	pc := &pipeline.Context{
		Request: loader.Request{
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stop:        req.Stop,
		},
		RequestedCaps: caps,
		Strategy:      req.Strategy,
		ExplicitModel: req.Model,
		APIKey:        apiKeyID,
	}

	started := time.Now()
	err := h.executor.Run(r.Context(), pc)
	h.recordAudit(apiKeyID, pc, time.Since(started), err)
	if err != nil {
		writeRouterErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, generateResponse{
		Model:        pc.ModelID,
		Text:         pc.Result.Text,
		Tokens:       pc.Result.Tokens,
		FinishReason: pc.Result.FinishReason,
		CacheHit:     pc.CacheHit,
	})
}

// recordAudit persists one request_audit row in the background; a failure
// here must never affect the caller's response.
func (h *ModelHandler) recordAudit(apiKeyID string, pc *pipeline.Context, latency time.Duration, runErr error) {
	if h.authService == nil {
		return
	}
	status := "ok"
	errorKind := ""
	if runErr != nil {
		status = "error"
		if kind, ok := routererr.KindOf(runErr); ok {
			errorKind = string(kind)
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.authService.RecordRequest(ctx, auth.RequestAudit{
			APIKeyID:         apiKeyID,
			ModelID:          pc.ModelID,
			Operation:        "generate",
			Status:           status,
			CompletionTokens: pc.Result.Tokens,
			LatencyMS:        latency.Milliseconds(),
			ErrorKind:        errorKind,
		})
	}()
}

type listModelsResponse struct {
	Models []registry.Snapshot `json:"models"`
}

// ListModels returns every registered descriptor and its current status.
func (h *ModelHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, listModelsResponse{Models: h.registry.List()})
}

// Register adds a new descriptor to the catalog without loading it.
func (h *ModelHandler) Register(w http.ResponseWriter, r *http.Request) {
	var d descriptor.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	snap, err := h.registry.Register(r.Context(), d)
	if err != nil {
		writeRouterErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

// Load dispatches the descriptor to the format loader and attaches the
// resulting handle, making the model servable.
func (h *ModelHandler) Load(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := h.registry.Get(id)
	if err != nil {
		writeRouterErr(w, err)
		return
	}

	started := time.Now()
	handle, err := h.dispatcher.Load(r.Context(), snap.Descriptor)
	if err != nil {
		writeRouterErr(w, err)
		return
	}
	if err := h.registry.AttachHandle(id, handle, time.Since(started)); err != nil {
		_ = handle.Close(r.Context())
		writeRouterErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "loaded", "model": id})
}

// Unload removes the descriptor entirely, tearing down its handle if one
// is attached.
func (h *ModelHandler) Unload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Unregister(r.Context(), id); err != nil {
		writeRouterErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unloaded", "model": id})
}

func writeRouterErr(w http.ResponseWriter, err error) {
	kind, _ := routererr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case routererr.KindValidation:
		status = http.StatusBadRequest
	case routererr.KindNotFound:
		status = http.StatusNotFound
	case routererr.KindDuplicateID:
		status = http.StatusConflict
	case routererr.KindCapabilityUnavailable, routererr.KindCapacityExceeded:
		status = http.StatusUnprocessableEntity
	case routererr.KindCancelled:
		status = http.StatusRequestTimeout
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
