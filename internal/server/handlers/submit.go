package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maruel/checkform/internal/forms"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server/dto"
	"github.com/maruel/checkform/internal/server/metrics"
)

// SubmitHandler interprets raw answers on the server: it loads the task's
// form, applies the answers, validates the visible fields and stores the
// mapped records.
type SubmitHandler struct {
	stores  Stores
	policy  forms.RecountPolicy
	metrics *metrics.Metrics
}

// NewSubmitHandler creates a new submit handler. m may be nil.
func NewSubmitHandler(stores Stores, policy forms.RecountPolicy, m *metrics.Metrics) *SubmitHandler {
	return &SubmitHandler{stores: stores, policy: policy, metrics: m}
}

// SubmitForm runs one submission.
func (h *SubmitHandler) SubmitForm(ctx context.Context, req *dto.SubmitFormRequest) (*dto.SubmitFormResponse, error) {
	values, err := req.SlotValues()
	if err != nil {
		return nil, err
	}
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	it := forms.NewInterpreter(s, s, req.ChecklistItemID,
		forms.WithRecountPolicy(h.policy),
		forms.WithLogger(slog.Default().With("org", models.GetOrgID(ctx))))
	defer it.Close()

	if err := it.Load(ctx, req.TaskID); err != nil {
		return nil, err
	}
	if len(it.Fields()) == 0 {
		return nil, models.NotFound("form of task " + req.TaskID.String())
	}
	if err := it.SetValues(values); err != nil {
		var apiErr *models.APIError
		if errors.As(err, &apiErr) && apiErr.Code() == models.ErrorCodeNotFound {
			err = models.BadRequest(err.Error())
		}
		h.metrics.Submission(metrics.OutcomeRejected, 0)
		return nil, err
	}
	recs, err := it.Submit(ctx)
	if err != nil {
		var vf *models.ValidationFailedError
		var su *models.StoreUnavailableError
		switch {
		case errors.As(err, &vf):
			h.metrics.Submission(metrics.OutcomeValidationFailed, 0)
		case errors.As(err, &su):
			h.metrics.Submission(metrics.OutcomeStoreUnavailable, 0)
		default:
			h.metrics.Submission(metrics.OutcomeRejected, 0)
		}
		return nil, err
	}
	h.metrics.Submission(metrics.OutcomeStored, len(recs))
	return &dto.SubmitFormResponse{State: it.State().String(), Responses: recs}, nil
}
