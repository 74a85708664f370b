package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"go.uber.org/zap"
)

type AdminHandler struct {
	reconciler ports.Reconciler
	repair     ports.RepairService
	logger     *zap.Logger
}

func NewAdminHandler(reconciler ports.Reconciler, repair ports.RepairService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		repair:     repair,
		logger:     logger,
	}
}

type districtKeyRequest struct {
	DistrictID     int64  `json:"district_id"`
	SubDistrictID  int64  `json:"sub_district_id"`
	ElectionTypeID int64  `json:"election_type_id"`
	Date           string `json:"date"`
}

func (h *AdminHandler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := districtKeyRequest{Date: q.Get("date")}

	var err error
	if req.DistrictID, err = strconv.ParseInt(q.Get("district_id"), 10, 64); err != nil {
		writeBadRequest(w, "district_id is required")
		return
	}
	if req.ElectionTypeID, err = strconv.ParseInt(q.Get("election_type_id"), 10, 64); err != nil {
		writeBadRequest(w, "election_type_id is required")
		return
	}
	if v := q.Get("sub_district_id"); v != "" {
		if req.SubDistrictID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeBadRequest(w, "sub_district_id must be an integer")
			return
		}
	}

	key, ok := parseKey(w, req)
	if !ok {
		return
	}

	agg, err := h.reconciler.Aggregate(r.Context(), key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req districtKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	key, ok := parseKey(w, req)
	if !ok {
		return
	}

	if err := h.reconciler.Reconcile(r.Context(), key); err != nil {
		writeError(w, h.logger, err)
		return
	}

	agg, err := h.reconciler.Aggregate(r.Context(), key)
	if err != nil {
		// The key had no tallies left, so its aggregate was removed.
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *AdminHandler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.ReconcileAll(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) RepairNumbering(w http.ResponseWriter, r *http.Request) {
	run := h.repair.Repair
	if dry, _ := strconv.ParseBool(r.URL.Query().Get("dry_run")); dry {
		run = h.repair.Preview
	}

	report, err := run(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseKey(w http.ResponseWriter, req districtKeyRequest) (domain.DistrictKey, bool) {
	date, err := time.Parse(domain.DateLayout, req.Date)
	if err != nil {
		writeBadRequest(w, "date must be formatted as YYYY-MM-DD")
		return domain.DistrictKey{}, false
	}
	return domain.DistrictKey{
		DistrictID:     req.DistrictID,
		SubDistrictID:  req.SubDistrictID,
		ElectionTypeID: req.ElectionTypeID,
		Date:           date,
	}.Normalize(), true
}
