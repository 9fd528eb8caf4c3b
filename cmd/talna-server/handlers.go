package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/talnadb/talna/pkg/config"
	"github.com/talnadb/talna/pkg/export"
	"github.com/talnadb/talna/pkg/query"
	"github.com/talnadb/talna/pkg/talna"
)

type handlers struct {
	db  *talna.Database
	log *zap.Logger
}

// WriteRequest is the payload for POST /v1/write.
type WriteRequest struct {
	Metric string            `json:"metric"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	TS     uint64            `json:"ts,omitempty"` // nanoseconds; 0 = now
}

func (h *handlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	var err error
	if req.TS == 0 {
		err = h.db.Write(req.Metric, req.Value, req.Tags)
	} else {
		err = h.db.WriteAt(req.Metric, req.Value, req.Tags, req.TS)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// QueryRequest is the payload for POST /v1/query.
type QueryRequest struct {
	Metric      string `json:"metric"`
	Filter      string `json:"filter,omitempty"`
	Aggregate   string `json:"aggregate"` // avg | sum | min | max | count
	GroupBy     string `json:"group_by,omitempty"`
	Start       uint64 `json:"start"`
	End         uint64 `json:"end,omitempty"` // 0 = now
	Granularity uint64 `json:"granularity"`
}

// QueryResponse echoes the queried metric alongside its result groups.
type QueryResponse struct {
	Metric string       `json:"metric"`
	Groups talna.Groups `json:"groups"`
}

func (h *handlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	agg, err := query.ParseAggregator(req.Aggregate)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	qb := h.db.Query(req.Metric).
		Filter(req.Filter).
		GroupBy(req.GroupBy).
		Aggregate(agg).
		Start(req.Start).
		Granularity(req.Granularity)
	if req.End != 0 {
		qb = qb.End(req.End)
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryRequestTimeout)
	defer cancel()

	groups, err := qb.Run(ctx)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, QueryResponse{Metric: req.Metric, Groups: groups})
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.db.Metrics()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"metrics": metrics})
}

func (h *handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="talna-export.ndjson.gz"`)

	res, err := export.Export(r.Context(), h.db, w)
	if err != nil {
		// Headers are already out; all we can do is log and drop.
		h.log.Error("export failed", zap.Error(err))
		return
	}
	h.log.Info("export complete", zap.Int("samples", res.Samples))
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
