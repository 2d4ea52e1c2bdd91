package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/colinzhu/limit-monitoring-sub001/model"
	"github.com/colinzhu/limit-monitoring-sub001/store"
)

// settlementView is a settlement row decorated with its effective status.
type settlementView struct {
	model.Settlement
	EffectiveStatus string `json:"effectiveStatus"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req model.SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"errors": []string{"invalid JSON body"},
		})
		return
	}

	refID, err := s.ingestor.ProcessSettlement(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"sequenceId": refID,
	})
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	settlementID := mux.Vars(r)["id"]
	q := r.URL.Query()

	var stl *model.Settlement
	var err error
	if v := q.Get("version"); v != "" {
		version, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"status": "error",
				"errors": []string{"version must be an integer"},
			})
			return
		}
		stl, err = s.queries.FindByIDVersion(r.Context(), settlementID, version)
	} else {
		stl, err = s.queries.FindLatest(r.Context(), settlementID, q.Get("pts"), q.Get("processingEntity"))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	view, err := s.decorate(r, stl)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseSearchCriteria(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"errors": []string{err.Error()},
		})
		return
	}

	rows, err := s.queries.Search(r.Context(), criteria)
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]settlementView, 0, len(rows))
	for i := range rows {
		view, err := s.decorate(r, &rows[i])
		if err != nil {
			s.writeError(w, err)
			return
		}
		results = append(results, view)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func parseSearchCriteria(r *http.Request) (model.SearchCriteria, error) {
	q := r.URL.Query()
	c := model.SearchCriteria{
		PTS:              q.Get("pts"),
		ProcessingEntity: q.Get("processingEntity"),
		CounterpartyID:   q.Get("counterpartyId"),
		ValueDateFrom:    q.Get("valueDateFrom"),
		ValueDateTo:      q.Get("valueDateTo"),
		Direction:        q.Get("direction"),
		BusinessStatus:   q.Get("businessStatus"),
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.New("limit must be an integer")
		}
		c.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.New("offset must be an integer")
		}
		c.Offset = offset
	}
	return c, nil
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groups, err := s.queries.DistinctGroups(r.Context(), model.GroupFilter{
		PTS:              q.Get("pts"),
		ProcessingEntity: q.Get("processingEntity"),
		CounterpartyID:   q.Get("counterpartyId"),
		ValueDate:        q.Get("valueDate"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(groups),
		"groups": groups,
	})
}

// recalculateRequest is the body of POST /api/recalculate.
type recalculateRequest struct {
	model.GroupFilter
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Comment  string `json:"comment"`
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"errors": []string{"invalid JSON body"},
		})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"errors": []string{"userId is required"},
		})
		return
	}

	groups, err := s.recalc.Recalculate(r.Context(), req.GroupFilter,
		model.User{ID: req.UserID, Name: req.UserName}, req.Comment)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"groups": groups,
	})
}

// workflowRequest is the body of the three workflow endpoints.
type workflowRequest struct {
	SettlementID      string `json:"settlementId"`
	SettlementVersion *int64 `json:"settlementVersion"`
	UserID            string `json:"userId"`
	UserName          string `json:"userName"`
	Comment           string `json:"comment"`
}

func (s *Server) handleRequestRelease(w http.ResponseWriter, r *http.Request) {
	s.handleWorkflow(w, r, s.workflow.RequestRelease)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.handleWorkflow(w, r, s.workflow.Authorize)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleWorkflow(w, r, s.workflow.Reject)
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request,
	transition func(ctx context.Context, settlementID string, version int64, user model.User, comment string) error) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"errors": []string{"invalid JSON body"},
		})
		return
	}

	var violations []string
	if req.SettlementID == "" {
		violations = append(violations, "settlementId is required")
	}
	if req.SettlementVersion == nil {
		violations = append(violations, "settlementVersion is required")
	}
	if req.UserID == "" {
		violations = append(violations, "userId is required")
	}
	if len(violations) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"errors": violations,
		})
		return
	}

	err := transition(r.Context(), req.SettlementID, *req.SettlementVersion,
		model.User{ID: req.UserID, Name: req.UserName}, req.Comment)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success"})
}

func (s *Server) decorate(r *http.Request, stl *model.Settlement) (settlementView, error) {
	effective, err := s.resolver.Resolve(r.Context(), stl)
	if err != nil {
		return settlementView{}, err
	}
	return settlementView{Settlement: *stl, EffectiveStatus: effective}, nil
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		valErr *model.ValidationError
		fxErr  *model.FxError
		segErr *model.SegregationError
		invErr *model.InvalidTransitionError
	)
	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"errors": valErr.Violations,
		})
	case errors.As(err, &fxErr):
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": fxErr.Error(),
		})
	case errors.As(err, &segErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status":  "error",
			"message": segErr.Error(),
		})
	case errors.As(err, &invErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status":  "error",
			"message": invErr.Error(),
		})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"status":  "error",
			"message": "settlement not found",
		})
	case store.IsTransient(err):
		s.log.Error().Err(err).Msg("Transient database error surfaced to client")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "error",
			"message": "temporarily unavailable, retry later",
		})
	default:
		s.log.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "internal error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
