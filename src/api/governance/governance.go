// Package governance turns locked stake into voting power and runs the
// proposal lifecycle: creation, voting and resolution.
package governance

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/locks"
	"github.com/stake-plus/stakegate/src/api/metrics"
	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/types"
	"github.com/stake-plus/stakegate/src/logging"
)

const (
	MinVotingTier    = types.TierBronze
	MinProposingTier = types.TierGold

	DefaultDurationDays = 7
	MinDurationDays     = 1
	MaxDurationDays     = 30

	maxTitle       = 200
	maxDescription = 10000
)

var (
	ErrCannotVote       = errs.Forbidden("tier too low to vote")
	ErrCannotPropose    = errs.Forbidden("tier too low to create proposals")
	ErrNoVotingPower    = errs.Forbidden("no voting power from active locks")
	ErrProposalNotFound = store.ErrProposalNotFound
	ErrProposalClosed   = store.ErrProposalClosed
	ErrAlreadyVoted     = store.ErrAlreadyVoted
	ErrProjectNotFound  = store.ErrProjectNotFound
)

// LockReader is the part of the lock engine governance depends on.
type LockReader interface {
	GetUserTier(ctx context.Context, userID uint64) (types.Tier, error)
	ActiveLocks(ctx context.Context, userID uint64) ([]types.Lock, error)
}

type Config struct {
	DefaultQuorum    int64
	DefaultThreshold float64
}

type Engine struct {
	cfg       Config
	store     *store.Store
	locks     LockReader
	rdb       *redis.Client
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	titles    *bluemonday.Policy
	sanitizer *bluemonday.Policy
}

// newSanitizer keeps basic markdown-rendered formatting in descriptions
// and drops everything else.
func newSanitizer() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AllowElements("p", "br", "strong", "em", "code", "pre", "blockquote")
	p.AllowElements("ul", "ol", "li")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowAttrs("href").OnElements("a")
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

func NewEngine(cfg Config, st *store.Store, lr LockReader, rdb *redis.Client, log *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.DefaultThreshold <= 0 || cfg.DefaultThreshold > 100 {
		cfg.DefaultThreshold = 50
	}
	if cfg.DefaultQuorum < 0 {
		cfg.DefaultQuorum = 0
	}
	return &Engine{
		cfg:       cfg,
		store:     st,
		locks:     lr,
		rdb:       rdb,
		log:       logging.OrNop(log),
		metrics:   metrics.OrNew(m),
		now:       time.Now,
		titles:    bluemonday.StrictPolicy(),
		sanitizer: newSanitizer(),
	}
}

// publish sends an event to the stream; a failure is logged and dropped.
func (e *Engine) publish(ctx context.Context, kind string, payload map[string]interface{}) {
	if err := data.PublishEvent(ctx, e.rdb, kind, payload); err != nil {
		e.log.Warn("publish event", zap.String("event", kind), zap.Error(err))
	}
}

// SetClock replaces time.Now; tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// VotingPower sums amount times tier multiplier over the user's ACTIVE
// locks and floors the total.
func VotingPower(active []types.Lock) int64 {
	total := decimal.Zero
	for _, l := range active {
		if l.Status != types.LockActive {
			continue
		}
		total = total.Add(decimal.NewFromInt(l.Amount).Mul(locks.Multiplier(l.Tier)))
	}
	return total.Floor().IntPart()
}

func (e *Engine) GetVotingPower(ctx context.Context, userID uint64) (int64, error) {
	ls, err := e.locks.ActiveLocks(ctx, userID)
	if err != nil {
		return 0, err
	}
	return VotingPower(ls), nil
}

func (e *Engine) CanVote(ctx context.Context, userID uint64) (bool, error) {
	t, err := e.locks.GetUserTier(ctx, userID)
	if err != nil {
		return false, err
	}
	return t.AtLeast(MinVotingTier), nil
}

func (e *Engine) CanPropose(ctx context.Context, userID uint64) (bool, error) {
	t, err := e.locks.GetUserTier(ctx, userID)
	if err != nil {
		return false, err
	}
	return t.AtLeast(MinProposingTier), nil
}

// ProposalInput is what an author submits. Quorum and Threshold may raise
// the configured defaults for one proposal but never lower them.
type ProposalInput struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Type         types.ProposalType `json:"type"`
	ProjectID    *uint64            `json:"projectId"`
	DurationDays int                `json:"durationDays"`
	Quorum       *int64             `json:"quorum"`
	Threshold    *float64           `json:"threshold"`
}

// ClampDuration applies the default and the [1, 30] day bounds.
func ClampDuration(days int) int {
	switch {
	case days == 0:
		return DefaultDurationDays
	case days < MinDurationDays:
		return MinDurationDays
	case days > MaxDurationDays:
		return MaxDurationDays
	}
	return days
}

func (e *Engine) CreateProposal(ctx context.Context, authorID uint64, in ProposalInput) (types.Proposal, error) {
	ok, err := e.CanPropose(ctx, authorID)
	if err != nil {
		return types.Proposal{}, err
	}
	if !ok {
		return types.Proposal{}, ErrCannotPropose
	}

	p := types.Proposal{
		AuthorID:    authorID,
		Type:        in.Type,
		ProjectID:   in.ProjectID,
		Quorum:      e.cfg.DefaultQuorum,
		Threshold:   e.cfg.DefaultThreshold,
		Status:      types.ProposalActive,
	}
	if err := e.validate(ctx, &p, in); err != nil {
		return types.Proposal{}, err
	}

	now := e.now().UTC()
	p.StartDate = now
	p.EndDate = now.AddDate(0, 0, ClampDuration(in.DurationDays))
	if err := e.store.CreateProposal(ctx, &p); err != nil {
		return types.Proposal{}, err
	}
	e.log.Info("proposal created",
		zap.Uint64("proposal", p.ID), zap.Uint64("author", authorID), zap.String("type", string(p.Type)))
	e.publish(ctx, "proposal.created", map[string]interface{}{
		"proposal": p.ID, "author": authorID, "type": string(p.Type),
	})
	return p, nil
}

func (e *Engine) validate(ctx context.Context, p *types.Proposal, in ProposalInput) error {
	if !utf8.ValidString(in.Title) || !utf8.ValidString(in.Description) {
		return errs.Validation("invalid characters in input")
	}
	p.Title = strings.TrimSpace(e.titles.Sanitize(in.Title))
	p.Description = strings.TrimSpace(e.sanitizer.Sanitize(in.Description))
	if p.Title == "" || utf8.RuneCountInString(p.Title) > maxTitle {
		return errs.Validation("title is required and at most %d characters", maxTitle)
	}
	if p.Description == "" || len(p.Description) > maxDescription {
		return errs.Validation("description must be between 1 and %d characters", maxDescription)
	}
	known := false
	for _, t := range types.ProposalTypes {
		if t == p.Type {
			known = true
			break
		}
	}
	if !known {
		return errs.Validation("unknown proposal type %q", p.Type)
	}
	switch {
	case p.Type.TargetsProject() && p.ProjectID == nil:
		return errs.Validation("%s requires projectId", p.Type)
	case !p.Type.TargetsProject() && p.ProjectID != nil:
		return errs.Validation("%s does not take a projectId", p.Type)
	case p.ProjectID != nil:
		if _, err := e.store.GetProject(ctx, *p.ProjectID); err != nil {
			return err
		}
	}
	if in.Quorum != nil {
		if *in.Quorum < e.cfg.DefaultQuorum {
			return errs.Validation("quorum cannot be below %d", e.cfg.DefaultQuorum)
		}
		p.Quorum = *in.Quorum
	}
	if in.Threshold != nil {
		if *in.Threshold < e.cfg.DefaultThreshold || *in.Threshold > 100 {
			return errs.Validation("threshold must be in [%g, 100]", e.cfg.DefaultThreshold)
		}
		p.Threshold = *in.Threshold
	}
	return nil
}

// CastVote records the user's vote with the voting power they hold right
// now. The power is never recomputed afterwards.
func (e *Engine) CastVote(ctx context.Context, proposalID, userID uint64, inFavor bool) (types.Vote, error) {
	ok, err := e.CanVote(ctx, userID)
	if err != nil {
		return types.Vote{}, err
	}
	if !ok {
		return types.Vote{}, ErrCannotVote
	}
	now := e.now().UTC()
	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return types.Vote{}, err
	}
	if p.Status != types.ProposalActive || now.After(p.EndDate) {
		return types.Vote{}, ErrProposalClosed
	}
	prev, err := e.store.GetVote(ctx, proposalID, userID)
	if err != nil {
		return types.Vote{}, err
	}
	if prev != nil {
		return types.Vote{}, ErrAlreadyVoted
	}
	power, err := e.GetVotingPower(ctx, userID)
	if err != nil {
		return types.Vote{}, err
	}
	if power == 0 {
		return types.Vote{}, ErrNoVotingPower
	}

	v := types.Vote{ProposalID: proposalID, UserID: userID, InFavor: inFavor, VotingPower: power}
	if err := e.store.InsertVote(ctx, &v, now); err != nil {
		return types.Vote{}, err
	}
	e.metrics.Votes.Inc()
	e.log.Info("vote cast",
		zap.Uint64("proposal", proposalID), zap.Uint64("user", userID),
		zap.Bool("inFavor", inFavor), zap.Int64("power", power))
	e.publish(ctx, "vote.cast", map[string]interface{}{
		"proposal": proposalID, "user": userID, "inFavor": inFavor, "power": power,
	})
	return v, nil
}

// ProposalView is a proposal as one requester sees it.
type ProposalView struct {
	types.Proposal
	MyVote      *types.Vote `json:"myVote,omitempty"`
	VotingPower int64       `json:"votingPower"`
}

func (e *Engine) GetProposal(ctx context.Context, requester, id uint64) (ProposalView, error) {
	p, err := e.store.GetProposal(ctx, id)
	if err != nil {
		return ProposalView{}, err
	}
	v, err := e.store.GetVote(ctx, id, requester)
	if err != nil {
		return ProposalView{}, err
	}
	power, err := e.GetVotingPower(ctx, requester)
	if err != nil {
		return ProposalView{}, err
	}
	return ProposalView{Proposal: p, MyVote: v, VotingPower: power}, nil
}

// ListProposals lists proposals newest first, optionally by status, with
// the requester's vote and current voting power attached.
func (e *Engine) ListProposals(ctx context.Context, requester uint64, status types.ProposalStatus, limit, offset int) ([]ProposalView, error) {
	switch status {
	case "", types.ProposalActive, types.ProposalPassed, types.ProposalRejected,
		types.ProposalExpired, types.ProposalExecuted:
	default:
		return nil, errs.Validation("unknown proposal status %q", status)
	}
	ps, err := e.store.ListProposals(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	votes, err := e.store.VotesByUser(ctx, requester, ids)
	if err != nil {
		return nil, err
	}
	power, err := e.GetVotingPower(ctx, requester)
	if err != nil {
		return nil, err
	}
	out := make([]ProposalView, len(ps))
	for i, p := range ps {
		out[i] = ProposalView{Proposal: p, VotingPower: power}
		if v, ok := votes[p.ID]; ok {
			out[i].MyVote = &v
		}
	}
	return out, nil
}
