package correlate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/model"
)

// Response is the envelope handed to reporting and export consumers.
type Response struct {
	Success bool                      `json:"success"`
	Data    []model.CorrelationResult `json:"data"`
	Error   string                    `json:"error,omitempty"`
	Reason  InputReason               `json:"reason,omitempty"`
}

// ReportResponse wraps a full report in the same envelope.
type ReportResponse struct {
	Success bool        `json:"success"`
	Data    *Report     `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Reason  InputReason `json:"reason,omitempty"`
}

// Service turns engine errors into structured outcomes.
type Service struct {
	engine *Engine
}

// NewService creates a Service.
func NewService(e *Engine) *Service {
	return &Service{engine: e}
}

// Defaults returns the engine options applied to unset query fields.
func (s *Service) Defaults() Options { return s.engine.Options() }

// Correlate runs a correlation with the engine's counterpart default.
func (s *Service) Correlate(ctx context.Context, missionID string, start, end time.Time, minOccurrences int) Response {
	return s.Query(ctx, Query{
		MissionID:      missionID,
		Start:          start,
		End:            end,
		MinOccurrences: minOccurrences,
		Counterpart:    s.engine.Options().AttributeCounterpartCell,
	})
}

// Query runs q and returns its ranked results.
func (s *Service) Query(ctx context.Context, q Query) Response {
	rep := s.Report(ctx, q)
	if !rep.Success {
		return Response{Error: rep.Error, Reason: rep.Reason, Data: []model.CorrelationResult{}}
	}
	return Response{Success: true, Data: rep.Data.Results}
}

// Report runs q and returns the full report.
func (s *Service) Report(ctx context.Context, q Query) ReportResponse {
	rep, err := s.engine.Run(ctx, q)
	if err != nil {
		out := ReportResponse{Error: err.Error()}
		if ie, ok := AsInputError(err); ok {
			out.Reason = ie.Reason
		} else {
			zap.L().Error("correlation failed",
				zap.String("component", "correlate"),
				zap.String("mission", q.MissionID),
				zap.Error(err),
			)
		}
		return out
	}
	return ReportResponse{Success: true, Data: rep}
}
