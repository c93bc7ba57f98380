package governance

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/types"
)

type ResolveReport struct {
	Passed   int `json:"passed"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
	// Executed counts passed proposals whose action was applied.
	Executed int `json:"executed"`
}

// ForPercentage is votesFor / total * 100, or zero with no votes.
func ForPercentage(votesFor, votesAgainst int64) decimal.Decimal {
	total := votesFor + votesAgainst
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(votesFor).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(total))
}

// Outcome classifies a proposal whose voting window has closed.
func Outcome(p types.Proposal) types.ProposalStatus {
	if p.VotesFor+p.VotesAgainst < p.Quorum {
		return types.ProposalExpired
	}
	if ForPercentage(p.VotesFor, p.VotesAgainst).GreaterThanOrEqual(decimal.NewFromFloat(p.Threshold)) {
		return types.ProposalPassed
	}
	return types.ProposalRejected
}

// ProcessExpiredProposals resolves every ACTIVE proposal past its end date
// and applies the action of those that pass. An action that fails leaves the
// proposal PASSED with a note; it never blocks the classification.
func (e *Engine) ProcessExpiredProposals(ctx context.Context) (ResolveReport, error) {
	var rep ResolveReport
	now := e.now().UTC()
	ended, err := e.store.EndedActiveProposals(ctx, now)
	if err != nil {
		return rep, err
	}
	for _, p := range ended {
		status := Outcome(p)
		moved, err := e.store.ResolveProposal(ctx, p.ID, status, now)
		if err != nil {
			return rep, err
		}
		if !moved {
			continue
		}
		switch status {
		case types.ProposalPassed:
			rep.Passed++
		case types.ProposalRejected:
			rep.Rejected++
		case types.ProposalExpired:
			rep.Expired++
		}
		e.metrics.ProposalsResolved.WithLabelValues(string(status)).Inc()
		e.log.Info("proposal resolved",
			zap.Uint64("proposal", p.ID), zap.String("status", string(status)),
			zap.Int64("for", p.VotesFor), zap.Int64("against", p.VotesAgainst), zap.Int64("quorum", p.Quorum))
		e.publish(ctx, "proposal.resolved", map[string]interface{}{
			"proposal": p.ID, "status": string(status),
		})

		if status == types.ProposalPassed && e.execute(ctx, p) {
			rep.Executed++
		}
	}
	e.log.Info("proposal resolution sweep",
		zap.Int("passed", rep.Passed), zap.Int("rejected", rep.Rejected),
		zap.Int("expired", rep.Expired), zap.Int("executed", rep.Executed))
	return rep, nil
}

func (e *Engine) execute(ctx context.Context, p types.Proposal) bool {
	act, err := actionFor(p)
	if err != nil {
		e.log.Warn("proposal has no action", zap.Uint64("proposal", p.ID), zap.Error(err))
		e.noteFailure(ctx, p.ID, err)
		return false
	}
	note, err := act.apply(ctx, e.store)
	if err != nil {
		e.log.Warn("proposal execution failed", zap.Uint64("proposal", p.ID), zap.Error(err))
		e.noteFailure(ctx, p.ID, err)
		return false
	}
	ok, err := e.store.MarkExecuted(ctx, p.ID, note, e.now().UTC())
	if err != nil || !ok {
		e.log.Warn("mark proposal executed", zap.Uint64("proposal", p.ID), zap.Bool("updated", ok), zap.Error(err))
		return false
	}
	e.metrics.ProposalsResolved.WithLabelValues(string(types.ProposalExecuted)).Inc()
	e.publish(ctx, "proposal.executed", map[string]interface{}{"proposal": p.ID, "note": note})
	return true
}

func (e *Engine) noteFailure(ctx context.Context, id uint64, cause error) {
	if err := e.store.NoteExecution(ctx, id, "execution failed: "+cause.Error()); err != nil {
		e.log.Warn("record execution failure", zap.Uint64("proposal", id), zap.Error(err))
	}
}
