package reporting

import (
	"context"
	"errors"
	"sort"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/guard"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRows caps one report's scan; summaries over more rows are truncated.
const maxRows = 10000

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce workspace filtering.
// - Attempts are read from the guard's attempt log; *guard.Service satisfies this.

type Repository interface {
	ListAttempts(ctx context.Context, f guard.AttemptFilter) ([]calls.CallAttempt, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) AttemptsSummary(ctx context.Context, req AttemptsSummaryRequest) (AttemptsSummary, error) {
	if err := validate(req.WorkspaceID, req.Range); err != nil {
		return AttemptsSummary{}, err
	}
	if s.repo == nil {
		return AttemptsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAttempts(ctx, guard.AttemptFilter{
		WorkspaceID: req.WorkspaceID,
		CallerID:    req.CallerID,
		ContactID:   req.ContactID,
		From:        req.Range.From,
		To:          req.Range.To,
		Limit:       maxRows,
	})
	if err != nil {
		return AttemptsSummary{}, err
	}

	out := AttemptsSummary{
		WorkspaceID: req.WorkspaceID,
		CallerID:    req.CallerID,
		Range:       req.Range,
		ByEndReason: map[calls.EndReason]int{},
		ByOutcome:   map[string]int{},
	}
	for _, a := range rows {
		out.TotalAttempts++
		if !a.Sealed() {
			// still dialing; counted but not classified
			out.OpenAttempts++
			continue
		}
		out.ByEndReason[a.EndReason]++
		if a.Outcome != "" {
			out.ByOutcome[a.Outcome]++
		}
		if a.ConnectedAt != nil || a.DurationSeconds > 0 {
			out.ConnectedAttempts++
		}
		if a.RecordingURL != "" {
			out.RecordedAttempts++
		}
		out.TotalDurationSeconds += a.DurationSeconds
	}
	if out.ConnectedAttempts > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.ConnectedAttempts
	}
	if sealed := out.TotalAttempts - out.OpenAttempts; sealed > 0 {
		out.ConnectionRate = float64(out.ConnectedAttempts) / float64(sealed)
	}
	return out, nil
}

// CallerBreakdown returns per-agent totals sorted by attempts, busiest first.
func (s *Service) CallerBreakdown(ctx context.Context, req CallerBreakdownRequest) ([]CallerTotals, error) {
	if err := validate(req.WorkspaceID, req.Range); err != nil {
		return nil, err
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAttempts(ctx, guard.AttemptFilter{
		WorkspaceID: req.WorkspaceID,
		From:        req.Range.From,
		To:          req.Range.To,
		Limit:       maxRows,
	})
	if err != nil {
		return nil, err
	}

	byCaller := map[string]*CallerTotals{}
	for _, a := range rows {
		t, ok := byCaller[a.CallerID]
		if !ok {
			t = &CallerTotals{CallerID: a.CallerID}
			byCaller[a.CallerID] = t
		}
		t.Attempts++
		if a.ConnectedAt != nil || a.DurationSeconds > 0 {
			t.Connected++
		}
		t.TotalDurationSeconds += a.DurationSeconds
	}

	out := make([]CallerTotals, 0, len(byCaller))
	for _, t := range byCaller {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts > out[j].Attempts
		}
		return out[i].CallerID < out[j].CallerID
	})
	return out, nil
}

func validate(workspaceID string, r TimeRange) error {
	if workspaceID == "" {
		return ErrInvalidRequest
	}
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRequest
	}
	return nil
}
