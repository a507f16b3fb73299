package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/index"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
	"github.com/utafrali/catalogindex/pkg/httputil"
	"github.com/utafrali/catalogindex/pkg/logger"
	"github.com/utafrali/catalogindex/pkg/validator"
)

// Rebuilder runs full rebuilds and reports their progress.
type Rebuilder interface {
	RebuildRun(ctx context.Context) (index.Run, error)
	Status() index.Status
}

// ItemIndexer reindexes a single catalog item.
type ItemIndexer interface {
	IndexItem(ctx context.Context, kind domain.Kind, id int64) error
}

// IndexHandler handles HTTP requests for the index endpoints.
type IndexHandler struct {
	rebuilder  Rebuilder
	items      ItemIndexer
	background context.Context
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewIndexHandler creates a new index HTTP handler. Rebuilds started
// without waiting run under background, so canceling it stops them.
func NewIndexHandler(background context.Context, rebuilder Rebuilder, items ItemIndexer, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{
		rebuilder:  rebuilder,
		items:      items,
		background: background,
		logger:     logger,
	}
}

// --- Request DTOs ---

// IndexItemRequest is the JSON request body for reindexing one item.
type IndexItemRequest struct {
	Kind string `json:"kind" validate:"required,oneof=product sku"`
	ID   int64  `json:"id" validate:"gt=0"`
}

// --- Handlers ---

// Rebuild handles POST /api/v1/index/rebuild. With ?wait=true the request
// blocks until the rebuild finishes and returns the finished run;
// otherwise the rebuild runs in the background and 202 is returned.
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "true" {
		run, err := h.rebuilder.RebuildRun(r.Context())
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: run})
		return
	}

	if h.rebuilder.Status().Running != nil {
		httputil.WriteError(w, r, apperrors.Conflict("a rebuild is already running"), h.logger)
		return
	}

	ctx := h.background
	if id := logger.CorrelationIDFromContext(r.Context()); id != "" {
		ctx = logger.WithCorrelationID(ctx, id)
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.rebuilder.RebuildRun(ctx); err != nil {
			level := slog.LevelError
			if errors.Is(err, apperrors.ErrConflict) {
				level = slog.LevelWarn
			}
			logger.WithContext(ctx, h.logger).Log(ctx, level, "background rebuild failed", slog.String("error", err.Error()))
		}
	}()

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]string{"status": "rebuild started"}})
}

// IndexItem handles POST /api/v1/index/items
func (h *IndexHandler) IndexItem(w http.ResponseWriter, r *http.Request) {
	var req IndexItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.items.IndexItem(r.Context(), domain.Kind(req.Kind), req.ID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"kind":   req.Kind,
		"id":     req.ID,
		"status": "indexed",
	}})
}

// Status handles GET /api/v1/index/status
func (h *IndexHandler) Status(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.rebuilder.Status()})
}

// Wait blocks until every background rebuild has returned.
func (h *IndexHandler) Wait() {
	h.wg.Wait()
}
