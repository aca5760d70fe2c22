package reporting

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"voicedesk/internal/calls"
)

var (
	ErrInvalidRange = errors.New("reporting: invalid range")
	ErrInvalidAgent = errors.New("reporting: agent id required")
)

const (
	dayKeyLayout   = "2006-01-02"
	dayLabelLayout = "Jan 2"
	defaultLimit   = 100
)

// CallSource is the remote call API as seen by reporting.
type CallSource interface {
	ListCalls(ctx context.Context, limit int) ([]calls.Call, error)
	ListCallsByAgent(ctx context.Context, agentID string) ([]calls.Call, error)
}

type Options struct {
	Source CallSource
	// Limit is the upper bound of records per fetch. Records beyond it are
	// not seen by any statistic.
	Limit    int
	Location *time.Location
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Service aggregates call records client-side; the remote API offers no
// aggregation endpoint.
type Service struct {
	source CallSource
	limit  int
	loc    *time.Location
	clock  func() time.Time
	log    *slog.Logger
}

func NewService(o Options) *Service {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{source: o.Source, limit: o.Limit, loc: o.Location, clock: o.Clock, log: o.Logger}
}

// FetchStatistics fetches up to Limit calls and summarizes those created in
// [periodStart, periodEnd]. Any fetch failure yields zeroed statistics.
func (s *Service) FetchStatistics(ctx context.Context, periodStart, periodEnd time.Time) (CallStatistics, error) {
	if periodStart.IsZero() || periodEnd.Before(periodStart) {
		return CallStatistics{}, ErrInvalidRange
	}
	all, err := s.fetch(ctx)
	if err != nil {
		return CallStatistics{}, err
	}
	return Statistics(all, periodStart, periodEnd), nil
}

// Window is the last `days` calendar days in the service's zone, today included.
func (s *Service) Window(days int) (start, end time.Time) {
	if days <= 0 {
		days = 1
	}
	end = s.clock().In(s.loc)
	start = startOfDay(end).AddDate(0, 0, -(days - 1))
	return start, end
}

// FetchWindow is FetchStatistics over Window(days).
func (s *Service) FetchWindow(ctx context.Context, days int) (CallStatistics, error) {
	start, end := s.Window(days)
	return s.FetchStatistics(ctx, start, end)
}

// FetchDailySeries buckets the fetched calls into the last `days` days.
// On failure the buckets are still returned, all zero.
func (s *Service) FetchDailySeries(ctx context.Context, days int) ([]DayBucket, error) {
	all, err := s.fetch(ctx)
	if err != nil {
		return BucketByDay(nil, days, s.clock(), s.loc), err
	}
	return BucketByDay(all, days, s.clock(), s.loc), nil
}

// FetchDashboard computes statistics and the daily series from a single fetch.
func (s *Service) FetchDashboard(ctx context.Context, days int) (Dashboard, error) {
	start, end := s.Window(days)
	all, err := s.fetch(ctx)
	if err != nil {
		return Dashboard{Daily: BucketByDay(nil, days, end, s.loc)}, err
	}
	return Dashboard{
		Statistics: Statistics(all, start, end),
		Daily:      BucketByDay(all, days, end, s.loc),
	}, nil
}

// RecentCalls lists up to limit calls, newest first.
func (s *Service) RecentCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	out, err := s.source.ListCalls(ctx, limit)
	if err != nil {
		s.log.ErrorContext(ctx, "list calls failed", "err", err)
		return nil, err
	}
	newestFirst(out)
	return out, nil
}

// AgentCalls lists the calls one agent handled, newest first.
func (s *Service) AgentCalls(ctx context.Context, agentID string) ([]calls.Call, error) {
	if agentID == "" {
		return nil, ErrInvalidAgent
	}
	out, err := s.source.ListCallsByAgent(ctx, agentID)
	if err != nil {
		s.log.ErrorContext(ctx, "list agent calls failed", "agent_id", agentID, "err", err)
		return nil, err
	}
	newestFirst(out)
	return out, nil
}

func (s *Service) fetch(ctx context.Context) ([]calls.Call, error) {
	if s.source == nil {
		return nil, errors.New("reporting: call source not configured")
	}
	all, err := s.source.ListCalls(ctx, s.limit)
	if err != nil {
		s.log.ErrorContext(ctx, "fetch calls failed", "limit", s.limit, "err", err)
		return nil, err
	}
	return all, nil
}

// Statistics summarizes calls created in [start, end] and compares the count
// with [start-(end-start), start).
func Statistics(all []calls.Call, start, end time.Time) CallStatistics {
	prevStart := start.Add(-end.Sub(start))

	var current []calls.Call
	previous := 0
	for _, c := range all {
		switch {
		case !c.CreatedAt.Before(start) && !c.CreatedAt.After(end):
			current = append(current, c)
		case !c.CreatedAt.Before(prevStart) && c.CreatedAt.Before(start):
			previous++
		}
	}

	sum := Summarize(current)
	return CallStatistics{
		Period:          TimeRange{From: start, To: end},
		TotalCalls:      sum.Total,
		CompletedCalls:  sum.Completed,
		PreviousTotal:   previous,
		AverageDuration: sum.AverageDuration,
		TotalDuration:   sum.TotalDuration,
		PercentChange:   PercentChange(sum.Total, previous),
		ByStatus:        sum.ByStatus,
	}
}

// Summarize counts calls and averages the duration of completed calls that
// report a positive duration.
func Summarize(cs []calls.Call) Summary {
	out := Summary{ByStatus: map[calls.CallStatus]int{}}
	var timed int
	var timedTotal float64
	for _, c := range cs {
		out.Total++
		out.TotalDuration += c.Duration
		if c.Status != "" {
			out.ByStatus[c.Status]++
		}
		if !c.IsCompleted() {
			continue
		}
		out.Completed++
		if c.Duration > 0 {
			timed++
			timedTotal += c.Duration
		}
	}
	if timed > 0 {
		out.AverageDuration = timedTotal / float64(timed)
	}
	return out
}

// PercentChange is the relative change from previous to current, rounded to
// one decimal. With no previous calls it is 100 when current is nonzero, else 0.
func PercentChange(current, previous int) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	v := float64(current-previous) / float64(previous) * 100
	return math.Round(v*10) / 10
}

// BucketByDay returns exactly `days` buckets, oldest first, the last being
// the day of now in loc. Calls outside the window are dropped.
func BucketByDay(cs []calls.Call, days int, now time.Time, loc *time.Location) []DayBucket {
	if days <= 0 {
		return []DayBucket{}
	}
	if loc == nil {
		loc = time.UTC
	}
	first := startOfDay(now.In(loc)).AddDate(0, 0, -(days - 1))

	out := make([]DayBucket, days)
	index := make(map[string]int, days)
	for i := range out {
		d := first.AddDate(0, 0, i)
		key := d.Format(dayKeyLayout)
		out[i] = DayBucket{Date: key, Label: d.Format(dayLabelLayout)}
		index[key] = i
	}
	for _, c := range cs {
		if c.CreatedAt.IsZero() {
			continue
		}
		if i, ok := index[c.CreatedAt.In(loc).Format(dayKeyLayout)]; ok {
			out[i].Count++
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func newestFirst(cs []calls.Call) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].CreatedAt.After(cs[j].CreatedAt) })
}
