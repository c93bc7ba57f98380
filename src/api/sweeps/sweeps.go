// Package sweeps runs the periodic lock and proposal sweeps, either once on
// request (CLI, admin endpoint) or on a ticker inside the API process.
package sweeps

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/governance"
	"github.com/stake-plus/stakegate/src/api/locks"
	"github.com/stake-plus/stakegate/src/logging"
)

const (
	Expiry    = "expiry"
	Locks     = "locks"
	Proposals = "proposals"
	All       = "all"

	leaseTTL = 10 * time.Minute
)

// Names lists every sweep Run accepts.
var Names = []string{Expiry, Locks, Proposals, All}

var ErrBusy = errs.Conflict("sweep already running elsewhere")

type Report struct {
	Expired   *int64                    `json:"expired,omitempty"`
	Locks     *locks.VerifyReport       `json:"locks,omitempty"`
	Proposals *governance.ResolveReport `json:"proposals,omitempty"`
}

type Runner struct {
	locks *locks.Engine
	gov   *governance.Engine
	rdb   *redis.Client
	log   *zap.Logger
}

func NewRunner(le *locks.Engine, ge *governance.Engine, rdb *redis.Client, log *zap.Logger) *Runner {
	return &Runner{locks: le, gov: ge, rdb: rdb, log: logging.OrNop(log)}
}

// Run executes the named sweep. "all" runs expiry, then lock verification,
// then proposal resolution. Concurrent runs of the same name across
// processes are excluded by a redis lease.
func (r *Runner) Run(ctx context.Context, name string) (Report, error) {
	var steps []string
	switch name {
	case Expiry, Locks, Proposals:
		steps = []string{name}
	case All:
		steps = []string{Expiry, Locks, Proposals}
	default:
		return Report{}, errs.Validation("unknown sweep %q", name)
	}

	release, err := data.AcquireMutex(ctx, r.rdb, "sweep:"+name, leaseTTL)
	if errors.Is(err, data.ErrMutexHeld) {
		return Report{}, ErrBusy
	}
	if err != nil {
		return Report{}, errs.Unavailable(err, "sweep lease")
	}
	defer release()

	var rep Report
	for _, step := range steps {
		if err := r.step(ctx, step, &rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (r *Runner) step(ctx context.Context, name string, rep *Report) error {
	switch name {
	case Expiry:
		n, err := r.locks.ProcessExpiredLocks(ctx)
		if err != nil {
			return err
		}
		rep.Expired = &n
	case Locks:
		v, err := r.locks.VerifyActiveLocks(ctx)
		rep.Locks = &v
		if err != nil {
			return err
		}
	case Proposals:
		p, err := r.gov.ProcessExpiredProposals(ctx)
		rep.Proposals = &p
		if err != nil {
			return err
		}
	}
	return nil
}

// Loop runs "all" every interval until ctx is done.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, All); err != nil {
				if errors.Is(err, ErrBusy) {
					r.log.Debug("sweep skipped, lease held elsewhere")
					continue
				}
				r.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
