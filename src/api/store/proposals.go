package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/stakegate/src/api/types"
)

func (s *Store) CreateProposal(ctx context.Context, p *types.Proposal) error {
	if err := s.conn(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id uint64) (types.Proposal, error) {
	var p types.Proposal
	err := s.conn(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, ErrProposalNotFound
	}
	if err != nil {
		return p, fmt.Errorf("get proposal %d: %w", id, err)
	}
	return p, nil
}

// ListProposals returns proposals newest first, optionally filtered by status.
func (s *Store) ListProposals(ctx context.Context, status types.ProposalStatus, limit, offset int) ([]types.Proposal, error) {
	q := s.conn(ctx).Order("created_at desc, id desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	var out []types.Proposal
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return out, nil
}

// EndedActiveProposals returns ACTIVE proposals whose end date is before now.
func (s *Store) EndedActiveProposals(ctx context.Context, now time.Time) ([]types.Proposal, error) {
	var out []types.Proposal
	if err := s.conn(ctx).
		Where("status = ? AND end_date < ?", types.ProposalActive, now).
		Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("ended proposals: %w", err)
	}
	return out, nil
}

// ResolveProposal moves an ACTIVE proposal to status. It reports false if
// another sweep already resolved it.
func (s *Store) ResolveProposal(ctx context.Context, id uint64, status types.ProposalStatus, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&types.Proposal{}).
		Where("id = ? AND status = ?", id, types.ProposalActive).
		Updates(map[string]interface{}{"status": status, "resolved_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("resolve proposal %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkExecuted moves a PASSED proposal to EXECUTED.
func (s *Store) MarkExecuted(ctx context.Context, id uint64, note string, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&types.Proposal{}).
		Where("id = ? AND status = ?", id, types.ProposalPassed).
		Updates(map[string]interface{}{
			"status":         types.ProposalExecuted,
			"executed_at":    now,
			"execution_note": note,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark executed %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// NoteExecution records why execution of a PASSED proposal did not happen.
func (s *Store) NoteExecution(ctx context.Context, id uint64, note string) error {
	return s.conn(ctx).Model(&types.Proposal{}).
		Where("id = ? AND status = ?", id, types.ProposalPassed).
		Update("execution_note", note).Error
}

// InsertVote records v and adds its power to the proposal tally in one
// transaction. The proposal must be ACTIVE and not past its end date at now.
func (s *Store) InsertVote(ctx context.Context, v *types.Vote, now time.Time) error {
	err := s.Tx(ctx, func(tx *Store) error {
		p, err := tx.GetProposal(ctx, v.ProposalID)
		if err != nil {
			return err
		}
		if p.Status != types.ProposalActive || now.After(p.EndDate) {
			return ErrProposalClosed
		}
		var n int64
		if err := tx.conn(ctx).Model(&types.Vote{}).
			Where("proposal_id = ? AND user_id = ?", v.ProposalID, v.UserID).
			Count(&n).Error; err != nil {
			return fmt.Errorf("count votes: %w", err)
		}
		if n > 0 {
			return ErrAlreadyVoted
		}
		if err := tx.conn(ctx).Create(v).Error; err != nil {
			return err
		}
		column := "votes_against"
		if v.InFavor {
			column = "votes_for"
		}
		res := tx.conn(ctx).Model(&types.Proposal{}).
			Where("id = ? AND status = ?", v.ProposalID, types.ProposalActive).
			Update(column, gorm.Expr(column+" + ?", v.VotingPower))
		if res.Error != nil {
			return fmt.Errorf("update tally: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrProposalClosed
		}
		return nil
	})
	if isDuplicate(err) {
		return ErrAlreadyVoted
	}
	return err
}

// GetVote returns the user's vote on a proposal, or nil.
func (s *Store) GetVote(ctx context.Context, proposalID, userID uint64) (*types.Vote, error) {
	var v types.Vote
	err := s.conn(ctx).First(&v, "proposal_id = ? AND user_id = ?", proposalID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vote: %w", err)
	}
	return &v, nil
}

// VotesByUser maps proposal id to the user's vote for the given proposals.
func (s *Store) VotesByUser(ctx context.Context, userID uint64, proposalIDs []uint64) (map[uint64]types.Vote, error) {
	out := make(map[uint64]types.Vote, len(proposalIDs))
	if len(proposalIDs) == 0 {
		return out, nil
	}
	var votes []types.Vote
	if err := s.conn(ctx).Where("user_id = ? AND proposal_id IN ?", userID, proposalIDs).Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("votes by user: %w", err)
	}
	for _, v := range votes {
		out[v.ProposalID] = v
	}
	return out, nil
}

// CountVotes returns the number of vote rows for a proposal.
func (s *Store) CountVotes(ctx context.Context, proposalID uint64) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&types.Vote{}).Where("proposal_id = ?", proposalID).Count(&n).Error
	return n, err
}
