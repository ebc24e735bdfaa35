package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/dalemusser/identityindex/internal/app/system/indexes"
	"github.com/dalemusser/identityindex/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler holds dependencies needed for the probe endpoints.
type Handler struct {
	Client *mongo.Client
	Log    *zap.Logger

	mu     sync.RWMutex
	report *indexes.Report
}

// NewHandler constructs a probe Handler with the Mongo client and logger.
func NewHandler(client *mongo.Client, logger *zap.Logger) *Handler {
	return &Handler{
		Client: client,
		Log:    logger,
	}
}

// SetReport records the report served by /indexes.
func (h *Handler) SetReport(rep *indexes.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report = rep
}

func (h *Handler) currentReport() *indexes.Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report
}

var errNoClient = errors.New("no mongo client configured")

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected" }
//
// On DB failure, or with no client, 503 and
//
//	{ "status":"error", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}

	var err error
	if h.Client == nil {
		err = errNoClient
	} else {
		err = h.Client.Ping(ctx, readpref.Primary())
	}
	if err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// ServeIndexes handles GET /indexes: the report of the last index run,
// or 503 when no run has completed yet.
func (h *Handler) ServeIndexes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	rep := h.currentReport()
	if rep == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:  "error",
			Message: "No index run has completed",
		})
		return
	}

	if err := json.NewEncoder(w).Encode(rep); err != nil {
		h.Log.Warn("indexes: encode report failed", zap.Error(err))
	}
}
