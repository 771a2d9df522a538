package domain

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Source names accepted by the trigger surfaces.
const (
	SourceViolations = "violations"
	SourceWeather    = "weather"
)

// RunState tracks a single ingestion run through its lifecycle:
// idle → fetching → normalizing → upserting → completed | failed.
// The three active states cycle once per batch.
type RunState string

const (
	RunIdle        RunState = "idle"
	RunFetching    RunState = "fetching"
	RunNormalizing RunState = "normalizing"
	RunUpserting   RunState = "upserting"
	RunCompleted   RunState = "completed"
	RunFailed      RunState = "failed"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange pins both endpoints to UTC midnight.
func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: Midnight(from), To: Midnight(to)}
}

// Midnight truncates t to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Empty reports whether the range contains no days.
func (r DateRange) Empty() bool {
	return r.From.After(r.To)
}

// Days returns every day in the range in ascending order.
func (r DateRange) Days() []time.Time {
	if r.Empty() {
		return nil
	}
	var days []time.Time
	for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// MarshalJSON emits the range as {"from":"YYYY-MM-DD","to":"YYYY-MM-DD"}.
func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		From string `json:"from"`
		To   string `json:"to"`
	}{r.From.Format(DateLayout), r.To.Format(DateLayout)})
}

// RunSummary is the trigger-facing record of one ingestion run.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	Range       DateRange `json:"range"`
	State       RunState  `json:"state"`
	Fetched     int       `json:"rows_fetched"`
	Quarantined int       `json:"rows_quarantined"`
	Upserted    int64     `json:"rows_upserted"`
	Batches     int       `json:"batches_committed"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
