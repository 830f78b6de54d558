package autorun

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"autoroll/internal/accounts"
	"autoroll/internal/eventbus"
	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

// Failure is one run the Restorer could not resume.
type Failure struct {
	UserID  string `json:"user_id"`
	Kind    Kind   `json:"kind"`
	Code    Code   `json:"code"`
	Dropped bool   `json:"dropped"`
}

// Report summarizes a restore pass.
type Report struct {
	Restored int `json:"restored"`
	Failed   int `json:"failed"`
	Dropped  int `json:"dropped"`

	// Reasons maps a user to the code of its first failed kind.
	Reasons  map[string]Code `json:"reasons,omitempty"`
	Failures []Failure       `json:"failures,omitempty"`
}

// Restorer resumes checkpointed runs after a restart.
//
// Each sub-record is checked against the account store before its run is
// started. Permanent failures drop the checkpoint; transient ones keep it
// for the next restart.
type Restorer struct {
	persist  *Persister
	runners  map[Kind]*Runner
	accounts Accounts
	limiter  *rate.Limiter
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
}

// NewRestorer builds a Restorer. A nil limiter resumes without pacing.
func NewRestorer(p *Persister, acc Accounts, limiter *rate.Limiter, bus eventbus.Bus, log logx.Logger, runners ...*Runner) *Restorer {
	m := make(map[Kind]*Runner, len(runners))
	for _, r := range runners {
		m[r.Kind()] = r
	}
	return &Restorer{persist: p, runners: m, accounts: acc, limiter: limiter, bus: bus, log: log, now: time.Now}
}

// Run restores every checkpoint. Per-user failures never abort the pass.
func (rs *Restorer) Run(ctx context.Context) (Report, error) {
	recs, err := rs.persist.Load(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Reasons: map[string]Code{}}

	users := make([]string, 0, len(recs))
	for id := range recs {
		users = append(users, id)
	}
	sort.Strings(users)

	for _, userID := range users {
		rec := recs[userID]
		for _, kind := range storage.Kinds {
			sub := rec.Get(kind)
			if sub == nil {
				continue
			}
			code, permanent := rs.restoreOne(ctx, userID, kind, *sub)
			if code == "" {
				rep.Restored++
				continue
			}
			f := Failure{UserID: userID, Kind: kind, Code: code}
			if permanent {
				if err := rs.persist.Remove(ctx, kind, userID); err == nil {
					f.Dropped = true
					rep.Dropped++
				}
			}
			rep.Failed++
			rep.Failures = append(rep.Failures, f)
			if _, seen := rep.Reasons[userID]; !seen {
				rep.Reasons[userID] = code
			}
			rs.log.Info("run not restored",
				logx.String("user", userID),
				logx.String("kind", string(kind)),
				logx.String("code", string(code)),
				logx.Bool("dropped", f.Dropped),
			)
		}
	}

	rs.log.Info("restore finished",
		logx.Int("restored", rep.Restored),
		logx.Int("failed", rep.Failed),
		logx.Int("dropped", rep.Dropped),
	)
	if rs.bus != nil {
		rs.bus.Publish(eventbus.Event{Type: eventbus.TypeRestored, Data: rep})
	}
	return rep, nil
}

// restoreOne returns "" on success, or the failure code and whether the
// checkpoint should be dropped. Checks run level first, then the kind window,
// then the remaining eligibility gates.
func (rs *Restorer) restoreOne(ctx context.Context, userID string, kind Kind, rec storage.RunRecord) (Code, bool) {
	r := rs.runners[kind]
	if r == nil {
		return CodeCheckFailed, false
	}
	ks := r.settings.Load()

	lvl, err := rs.accounts.Level(ctx, userID)
	if err != nil {
		return failed(lookupCode(err))
	}
	if lvl < ks.MinLevel {
		return failed(CodeLevelNotReached)
	}
	if now := rs.now(); !ks.ActiveAt(now) {
		// A disabled kind or a window not yet open may come back; a closed
		// window never does.
		return inactiveCode(kind), ks.Ended(now)
	}
	if ks.PrerequisiteItem != "" {
		n, err := rs.accounts.ItemCount(ctx, userID, ks.PrerequisiteItem)
		if err != nil {
			return failed(lookupCode(err))
		}
		if n <= 0 {
			return failed(CodeNoPrerequisite)
		}
	}
	if ks.MinCurrency > 0 {
		bal, err := rs.accounts.Balance(ctx, userID, ks.currency())
		if err != nil {
			return failed(lookupCode(err))
		}
		if bal < ks.MinCurrency {
			return failed(CodeInsufficientCurrency)
		}
	}

	if rs.limiter != nil {
		if err := rs.limiter.Wait(ctx); err != nil {
			return CodeCheckFailed, false
		}
	}

	err = r.Start(ctx, userID, StartOptions{
		AutoSell:          rec.AutoSell,
		SkipImmediateSave: true,
		Resume:            &rec,
	})
	switch code := CodeOf(err); {
	case err == nil, code == CodeAlreadyRunning:
		return "", false
	case code != "":
		return failed(code)
	default:
		return CodeCheckFailed, false
	}
}

func failed(code Code) (Code, bool) { return code, code.Permanent() }

func lookupCode(err error) Code {
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return CodeAccountNotFound
	}
	return CodeCheckFailed
}
