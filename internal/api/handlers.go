package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/correlate"
	"github.com/sells-group/hunter-cli/internal/ingest"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/store"
)

// envelope is the JSON shape of every non-correlation response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	op, err := model.ParseOperator(q.Get("operator"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := model.ParseRecordKind(q.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := q.Get("filename")
	if name == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read upload body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "upload body is empty")
		return
	}

	res, err := s.ingestor.IngestFile(r.Context(), ingest.Request{
		Operator:  op,
		Kind:      kind,
		MissionID: chi.URLParam(r, "missionID"),
		FileName:  name,
		Data:      data,
	})
	if err != nil {
		se, ok := ingest.AsSystemic(err)
		if !ok {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status := http.StatusUnprocessableEntity
		if se.Reason == ingest.ReasonStorageUnavailable {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, envelope{Data: res, Error: se.Error(), Reason: string(se.Reason)})
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: res})
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := correlate.Query{
		MissionID:   chi.URLParam(r, "missionID"),
		Counterpart: s.service.Defaults().AttributeCounterpartCell,
	}

	var err error
	if query.Start, err = correlate.ParseWindowTime(q.Get("start"), s.opts.Location); err != nil {
		writeCorrelationError(w, err)
		return
	}
	if query.End, err = correlate.ParseWindowEnd(q.Get("end"), s.opts.Location); err != nil {
		writeCorrelationError(w, err)
		return
	}
	if v := q.Get("min"); v != "" {
		if query.MinOccurrences, err = strconv.Atoi(v); err != nil || query.MinOccurrences < 1 {
			writeJSON(w, http.StatusBadRequest, correlate.Response{
				Data:  []model.CorrelationResult{},
				Error: "min must be a positive integer",
			})
			return
		}
	}
	if v := q.Get("counterpart"); v != "" {
		if query.Counterpart, err = strconv.ParseBool(v); err != nil {
			writeJSON(w, http.StatusBadRequest, correlate.Response{
				Data:  []model.CorrelationResult{},
				Error: "counterpart must be a boolean",
			})
			return
		}
	}

	resp := s.service.Query(r.Context(), query)
	writeJSON(w, correlationStatus(resp), resp)
}

func writeCorrelationError(w http.ResponseWriter, err error) {
	resp := correlate.Response{Data: []model.CorrelationResult{}, Error: err.Error()}
	if ie, ok := correlate.AsInputError(err); ok {
		resp.Reason = ie.Reason
	}
	writeJSON(w, correlationStatus(resp), resp)
}

func correlationStatus(resp correlate.Response) int {
	switch {
	case resp.Success:
		return http.StatusOK
	case resp.Reason == correlate.ReasonMissionNotFound:
		return http.StatusNotFound
	case resp.Reason != "":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	filter := store.BatchFilter{
		MissionID: chi.URLParam(r, "missionID"),
		Status:    model.BatchStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	batches, err := s.store.ListBatches(r.Context(), filter)
	if err != nil {
		s.log.Error("list batches", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list batches failed")
		return
	}
	if batches == nil {
		batches = []model.UploadBatch{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: batches})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.log.Error("get batch", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get batch failed")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: b})
}

func (s *Server) handlePurgeBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	removed, err := s.store.PurgeBatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.log.Error("purge batch", zap.String("batch_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "purge batch failed")
		return
	}
	s.log.Info("batch purged", zap.String("batch_id", id), zap.Int64("records", removed))
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"batch_id":        id,
		"records_removed": removed,
	}})
}
