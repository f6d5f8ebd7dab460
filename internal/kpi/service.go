package kpi

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/observability"
)

// Reader abstracts summary queries.
type Reader interface {
	GetSummary(ctx context.Context, orderID string) (Summary, error)
	ListSummaries(ctx context.Context, filter SummaryFilter) ([]Summary, error)
	PickingSpans(ctx context.Context, filter SummaryFilter) ([]PickingSpan, error)
}

// Service captures first-check summaries and serves KPI reads.
type Service struct {
	reader  Reader
	cache   *Cache
	metrics *observability.WorkflowMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(reader Reader, cache *Cache, metrics *observability.WorkflowMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reader: reader, cache: cache, metrics: metrics, logger: logger, now: time.Now}
}

// Capture evaluates the order inside the caller's transaction and writes the
// summary when the order just became fully checked. It reports whether a new
// summary was written; an existing summary is never touched.
func (s *Service) Capture(ctx context.Context, store TxStore, orderID string, items []ItemOutcome) (Summary, bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Summary{}, false, errOrderRequired
	}
	if !FullyChecked(items) {
		return Summary{}, false, nil
	}
	exists, err := store.SummaryExists(ctx, orderID)
	if err != nil {
		return Summary{}, false, err
	}
	if exists {
		s.metrics.SummaryCapture("exists")
		return Summary{}, false, nil
	}
	summary, _ := Snapshot(orderID, items, s.now().UTC())
	inserted, err := store.InsertSummary(ctx, summary)
	if err != nil {
		return Summary{}, false, err
	}
	if !inserted {
		s.metrics.SummaryCapture("exists")
		return Summary{}, false, nil
	}
	s.metrics.SummaryCapture("captured")
	return summary, true, nil
}

// Captured runs after the capturing transaction committed.
func (s *Service) Captured(ctx context.Context, summary Summary) {
	s.logger.Info("order fully checked",
		slog.String("order_id", summary.OrderID),
		slog.String("picker_id", summary.PickerID),
		slog.Float64("accuracy_percent", summary.AccuracyPercent))
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump kpi cache", slog.Any("error", err))
	}
}

// Get returns the summary of one order.
func (s *Service) Get(ctx context.Context, orderID string) (Summary, error) {
	return s.reader.GetSummary(ctx, strings.TrimSpace(orderID))
}

// List returns summaries matching filter.
func (s *Service) List(ctx context.Context, filter SummaryFilter) ([]Summary, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.reader.ListSummaries(ctx, filter)
}

// Dashboard aggregates summaries per picker, served from cache when possible.
func (s *Service) Dashboard(ctx context.Context, filter SummaryFilter) (Dashboard, error) {
	if err := validateFilter(filter); err != nil {
		return Dashboard{}, err
	}
	key, err := s.cache.BuildKey(ctx, filterKey(filter)...)
	if err != nil {
		return Dashboard{}, err
	}
	var out Dashboard
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		summaries, err := s.reader.ListSummaries(ctx, filter)
		if err != nil {
			return nil, err
		}
		spans, err := s.reader.PickingSpans(ctx, filter)
		if err != nil {
			return nil, err
		}
		return buildDashboard(summaries, spans), nil
	})
	return out, err
}

func validateFilter(filter SummaryFilter) error {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return ErrInvalidRange
	}
	return nil
}

func buildDashboard(summaries []Summary, spans []PickingSpan) Dashboard {
	type acc struct {
		stats       PickerStats
		accuracySum float64
		spanSum     time.Duration
		spanCount   int
	}
	byPicker := make(map[string]*acc)
	get := func(id string) *acc {
		a, ok := byPicker[id]
		if !ok {
			a = &acc{stats: PickerStats{PickerID: id}}
			byPicker[id] = a
		}
		return a
	}
	var (
		accuracyTotal float64
		spanTotal     time.Duration
	)
	for _, sum := range summaries {
		a := get(sum.PickerID)
		a.stats.Orders++
		a.stats.TotalItems += sum.TotalItems
		a.stats.Correct += sum.CorrectAtFirstCheck
		a.stats.Wrong += sum.WrongAtFirstCheck
		a.stats.NotFind += sum.NotFindAtFirstCheck
		a.accuracySum += sum.AccuracyPercent
		accuracyTotal += sum.AccuracyPercent
	}
	for _, span := range spans {
		a := get(span.PickerID)
		a.spanSum += span.Duration
		a.spanCount++
		spanTotal += span.Duration
	}
	out := Dashboard{Orders: len(summaries), Pickers: make([]PickerStats, 0, len(byPicker))}
	if len(summaries) > 0 {
		out.AvgAccuracy = round2(accuracyTotal / float64(len(summaries)))
	}
	if len(spans) > 0 {
		out.AvgPickingSecond = round2(spanTotal.Seconds() / float64(len(spans)))
	}
	for _, a := range byPicker {
		if a.stats.Orders > 0 {
			a.stats.AvgAccuracy = round2(a.accuracySum / float64(a.stats.Orders))
		}
		if a.spanCount > 0 {
			a.stats.AvgPickingSecond = round2(a.spanSum.Seconds() / float64(a.spanCount))
		}
		out.Pickers = append(out.Pickers, a.stats)
	}
	sort.Slice(out.Pickers, func(i, j int) bool {
		if out.Pickers[i].AvgAccuracy == out.Pickers[j].AvgAccuracy {
			return out.Pickers[i].PickerID < out.Pickers[j].PickerID
		}
		return out.Pickers[i].AvgAccuracy > out.Pickers[j].AvgAccuracy
	})
	return out
}
