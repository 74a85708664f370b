package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TallyHandler struct {
	service ports.TallyService
	logger  *zap.Logger
}

func NewTallyHandler(service ports.TallyService, logger *zap.Logger) *TallyHandler {
	return &TallyHandler{
		service: service,
		logger:  logger,
	}
}

type submitTallyRequest struct {
	Date                  string       `json:"date"`
	ElectionTypeID        int64        `json:"election_type_id"`
	SchoolID              int64        `json:"school_id"`
	TableID               int64        `json:"table_id"`
	TotalVoters           int64        `json:"total_voters"`
	TotalRegisteredVoters int64        `json:"total_registered_voters"`
	Votes                 domain.Votes `json:"votes"`
}

type reviseTallyRequest struct {
	Date                  *string      `json:"date"`
	ElectionTypeID        *int64       `json:"election_type_id"`
	SchoolID              *int64       `json:"school_id"`
	TableID               *int64       `json:"table_id"`
	TotalVoters           *int64       `json:"total_voters"`
	TotalRegisteredVoters *int64       `json:"total_registered_voters"`
	Votes                 domain.Votes `json:"votes"`
}

func (h *TallyHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitTallyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	date, err := time.Parse(domain.DateLayout, req.Date)
	if err != nil {
		writeBadRequest(w, "date must be formatted as YYYY-MM-DD")
		return
	}

	input := ports.SubmitTallyInput{
		Date:                  date,
		ElectionTypeID:        req.ElectionTypeID,
		SchoolID:              req.SchoolID,
		TableID:               req.TableID,
		TotalVoters:           req.TotalVoters,
		TotalRegisteredVoters: req.TotalRegisteredVoters,
		Votes:                 req.Votes,
	}

	tally, err := h.service.Submit(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, tally)
}

func (h *TallyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := tallyID(w, r)
	if !ok {
		return
	}

	tally, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (h *TallyHandler) Revise(w http.ResponseWriter, r *http.Request) {
	id, ok := tallyID(w, r)
	if !ok {
		return
	}

	var req reviseTallyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	changes := ports.TallyChanges{
		ElectionTypeID:        req.ElectionTypeID,
		SchoolID:              req.SchoolID,
		TableID:               req.TableID,
		TotalVoters:           req.TotalVoters,
		TotalRegisteredVoters: req.TotalRegisteredVoters,
		Votes:                 req.Votes,
	}
	if req.Date != nil {
		date, err := time.Parse(domain.DateLayout, *req.Date)
		if err != nil {
			writeBadRequest(w, "date must be formatted as YYYY-MM-DD")
			return
		}
		changes.Date = &date
	}

	tally, err := h.service.Revise(r.Context(), id, changes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (h *TallyHandler) Retract(w http.ResponseWriter, r *http.Request) {
	id, ok := tallyID(w, r)
	if !ok {
		return
	}

	if err := h.service.Retract(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func tallyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, domain.ErrInvalidTallyID.Error())
		return uuid.Nil, false
	}
	return id, true
}
