package handlers

import (
	"context"
	"errors"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server/dto"
	"github.com/maruel/checkform/internal/server/metrics"
)

// ResponseHandler stores and lists response records.
type ResponseHandler struct {
	stores  Stores
	metrics *metrics.Metrics
}

// NewResponseHandler creates a new response handler. m may be nil.
func NewResponseHandler(stores Stores, m *metrics.Metrics) *ResponseHandler {
	return &ResponseHandler{stores: stores, metrics: m}
}

// SubmitResponses stores already mapped records for a checklist item.
func (h *ResponseHandler) SubmitResponses(ctx context.Context, req *dto.SubmitResponsesRequest) (*dto.ListResponsesResponse, error) {
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	recs, err := s.SubmitResponses(ctx, req.ChecklistItemID, req.Records)
	if err != nil {
		var vf *models.ValidationFailedError
		if errors.As(err, &vf) {
			h.metrics.Submission(metrics.OutcomeValidationFailed, 0)
		} else {
			h.metrics.Submission(metrics.OutcomeStoreUnavailable, 0)
		}
		return nil, storeError("submit responses", err)
	}
	h.metrics.Submission(metrics.OutcomeStored, len(recs))
	return &dto.ListResponsesResponse{Responses: recs}, nil
}

// ListResponses returns the records matching the query filters.
func (h *ResponseHandler) ListResponses(ctx context.Context, req *dto.ListResponsesRequest) (*dto.ListResponsesResponse, error) {
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	recs, err := s.ListResponses(ctx, req.Filter())
	if err != nil {
		return nil, storeError("list responses", err)
	}
	if recs == nil {
		recs = []models.ResponseRecord{}
	}
	return &dto.ListResponsesResponse{Responses: recs}, nil
}
