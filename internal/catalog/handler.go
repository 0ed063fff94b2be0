package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/mkravets/chimera/internal/api"
)

// UsageCounter is the slice of the persistence layer the stats endpoint needs.
type UsageCounter interface {
	CountUsers(ctx context.Context) (int64, error)
	CountQueryRecords(ctx context.Context) (int64, error)
}

// Handler exposes the corpus browsing endpoints.
type Handler struct {
	cat   *Catalog
	usage UsageCounter
}

// NewHandler creates a catalog handler. usage may be nil, which zeroes the
// usage figures in /api/stats.
func NewHandler(cat *Catalog, usage UsageCounter) *Handler {
	return &Handler{cat: cat, usage: usage}
}

// RegisterRoutes mounts the catalog endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/categories", h.handleCategories)
	r.Get("/api/categories/{category}/publications", h.handleCategoryPublications)
	r.Get("/api/stats", h.handleStats)
	r.Post("/initialize", h.handleInitialize)
}

type dataSource struct {
	Name   string `json:"name"`
	Count  int    `json:"count"`
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

type categoriesResponse struct {
	Breakdown
	DataSources []dataSource `json:"data_sources"`
	LastUpdated time.Time    `json:"last_updated"`
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	if err := h.ensureLoaded(r.Context()); err != nil {
		slog.Error("Corpus load failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "publication corpus unavailable")
		return
	}

	breakdown := h.cat.Categories()
	resp := categoriesResponse{
		Breakdown: breakdown,
		DataSources: []dataSource{
			{Name: "Local CSV Database", Count: breakdown.TotalPublications, Status: "active"},
			{Name: "NASA Open Science Data Repository", Count: 30, Status: "active", URL: "https://osdr.nasa.gov/"},
			{Name: "NASA Life Sciences Data Archive", Status: "pending", URL: "https://lsda.jsc.nasa.gov/"},
			{Name: "NASA Task Book", Status: "pending", URL: "https://taskbook.nasaprs.com/"},
		},
		LastUpdated: h.cat.Stats().LoadedAt,
	}
	api.JSON(w, http.StatusOK, resp)
}

type categoryPublicationsResponse struct {
	Category     string                `json:"category"`
	Publications []CategoryPublication `json:"publications"`
	Total        int                   `json:"total"`
}

func (h *Handler) handleCategoryPublications(w http.ResponseWriter, r *http.Request) {
	if err := h.ensureLoaded(r.Context()); err != nil {
		slog.Error("Corpus load failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "publication corpus unavailable")
		return
	}

	name := chi.URLParam(r, "category")
	pubs, err := h.cat.PublicationsByCategory(name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			api.Error(w, http.StatusNotFound, "unknown category")
			return
		}
		api.Error(w, http.StatusInternalServerError, "category lookup failed")
		return
	}

	api.JSON(w, http.StatusOK, categoryPublicationsResponse{
		Category:     name,
		Publications: pubs,
		Total:        len(pubs),
	})
}

type statsResponse struct {
	Stats
	TotalUsers   int64 `json:"total_users"`
	TotalQueries int64 `json:"total_queries"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Stats: h.cat.Stats()}
	if h.usage != nil {
		if n, err := h.usage.CountUsers(r.Context()); err == nil {
			resp.TotalUsers = n
		} else {
			slog.Warn("User count unavailable", "error", err)
		}
		if n, err := h.usage.CountQueryRecords(r.Context()); err == nil {
			resp.TotalQueries = n
		} else {
			slog.Warn("Query count unavailable", "error", err)
		}
	}
	api.JSON(w, http.StatusOK, resp)
}

type initializeResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Statistics Stats  `json:"statistics"`
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	did, err := h.cat.Load(r.Context())
	if err != nil {
		slog.Error("Corpus initialization failed", "error", err)
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := initializeResponse{Status: "success", Message: "Knowledge base initialized successfully", Statistics: h.cat.Stats()}
	if !did {
		resp.Status = "already_initialized"
		resp.Message = "Knowledge base is already loaded"
	}
	api.JSON(w, http.StatusOK, resp)
}

func (h *Handler) ensureLoaded(ctx context.Context) error {
	if h.cat.Loaded() {
		return nil
	}
	_, err := h.cat.Load(ctx)
	return err
}
