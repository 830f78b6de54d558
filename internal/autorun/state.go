package autorun

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"autoroll/internal/roll"
	"autoroll/internal/storage"
)

// RunState is the in-memory state of one active (user, kind) run.
// Fields are guarded by the owning Runner's mutex.
type RunState struct {
	UserID string
	Kind   Kind

	run storage.RunRecord

	StoppedReason StopReason
	NextTickAt    time.Time

	token *cancelToken
}

func newRunState(userID string, kind Kind, autoSell bool, now time.Time) *RunState {
	return &RunState{
		UserID: userID,
		Kind:   kind,
		run: storage.RunRecord{
			RunID:     uuid.NewString(),
			AutoSell:  autoSell,
			StartedAt: now,
		},
		token: &cancelToken{},
	}
}

// hydrate copies the historical fields of a checkpoint into a fresh state.
// The auto-sell flag of the new start wins.
func (s *RunState) hydrate(rec storage.RunRecord) {
	autoSell := s.run.AutoSell
	s.run = rec.Clone()
	s.run.AutoSell = autoSell
	if s.run.RunID == "" {
		s.run.RunID = uuid.NewString()
	}
}

// fold applies one completed batch. rollIndex of the batch is the new
// roll count. Best only moves on a strictly better outcome.
func (s *RunState) fold(res BatchResult, r roll.Ranker, now time.Time) {
	s.run.RollCount++
	idx := s.run.RollCount

	if res.Best != nil && (s.run.Best == nil || r.Compare(*res.Best, *s.run.Best) > 0) {
		b := *res.Best
		s.run.Best = &b
		s.run.BestAt = now
		s.run.BestRollIndex = idx
	}
	if res.NotableCount > 0 {
		if s.run.NotableCount == 0 {
			s.run.NotableFirstAt = now
			s.run.NotableFirstRollIndex = idx
		}
		s.run.NotableCount += int64(res.NotableCount)
	}
	s.run.Proceeds += res.Proceeds
	if s.Kind == KindEvent {
		s.run.UnitsProcessed += int64(len(res.Outcomes))
	}
	s.run.GuaranteedSlotsUsed += int64(res.GuaranteedSlotsUsed)
	if res.SoldUnits > 0 {
		if s.run.Counters == nil {
			s.run.Counters = map[string]int64{}
		}
		s.run.Counters["sold_units"] += res.SoldUnits
	}
}

func (s *RunState) summary(now time.Time) Summary {
	return Summary{
		UserID:     s.UserID,
		Kind:       s.Kind,
		Reason:     s.StoppedReason,
		Elapsed:    now.Sub(s.run.StartedAt),
		NextTickAt: s.NextTickAt,
		Run:        s.run.Clone(),
	}
}

// Summary is a point-in-time copy of a Run State.
type Summary struct {
	UserID     string            `json:"user_id"`
	Kind       Kind              `json:"kind"`
	Reason     StopReason        `json:"reason,omitempty"`
	Elapsed    time.Duration     `json:"elapsed"`
	NextTickAt time.Time         `json:"next_tick_at,omitempty"`
	Run        storage.RunRecord `json:"run"`
}

// cancelToken owns the pending timer of a run. Once released it stops the
// current timer and refuses new ones.
type cancelToken struct {
	mu       sync.Mutex
	timer    Timer
	released bool
}

// arm installs t as the pending timer. It reports false, stopping t, when
// the token was already released.
func (c *cancelToken) arm(t Timer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		t.Stop()
		return false
	}
	c.timer = t
	return true
}

func (c *cancelToken) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *cancelToken) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}
