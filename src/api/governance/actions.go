package governance

import (
	"context"
	"fmt"

	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/types"
)

const manualFollowUp = "manual follow-up required"

// action is the effect a passed proposal has. The set is closed: actionFor
// is the only constructor and fails on a type it does not know.
type action interface {
	apply(ctx context.Context, st *store.Store) (note string, err error)
	sealed()
}

type featureProject struct{ projectID uint64 }

type delistProject struct{ projectID uint64 }

type communityPick struct{ projectID uint64 }

type platformChange struct{}

func (featureProject) sealed() {}
func (delistProject) sealed()  {}
func (communityPick) sealed()  {}
func (platformChange) sealed() {}

func (a featureProject) apply(ctx context.Context, st *store.Store) (string, error) {
	if err := st.UpdateProject(ctx, a.projectID, map[string]interface{}{"featured": true}); err != nil {
		return "", err
	}
	return fmt.Sprintf("project %d featured", a.projectID), nil
}

func (a delistProject) apply(ctx context.Context, st *store.Store) (string, error) {
	if err := st.UpdateProject(ctx, a.projectID, map[string]interface{}{"archived": true, "featured": false}); err != nil {
		return "", err
	}
	return fmt.Sprintf("project %d archived", a.projectID), nil
}

func (a communityPick) apply(ctx context.Context, st *store.Store) (string, error) {
	if err := st.UpdateProject(ctx, a.projectID, map[string]interface{}{"featured": true}); err != nil {
		return "", err
	}
	return fmt.Sprintf("project %d featured as community pick", a.projectID), nil
}

func (platformChange) apply(context.Context, *store.Store) (string, error) {
	return manualFollowUp, nil
}

func actionFor(p types.Proposal) (action, error) {
	if p.Type.TargetsProject() && p.ProjectID == nil {
		return nil, fmt.Errorf("proposal %d: %s without project", p.ID, p.Type)
	}
	switch p.Type {
	case types.ProposalFeatureProject:
		return featureProject{projectID: *p.ProjectID}, nil
	case types.ProposalDelistProject:
		return delistProject{projectID: *p.ProjectID}, nil
	case types.ProposalCommunityPick:
		return communityPick{projectID: *p.ProjectID}, nil
	case types.ProposalPlatformChange:
		return platformChange{}, nil
	default:
		return nil, fmt.Errorf("proposal %d: no action for type %q", p.ID, p.Type)
	}
}
