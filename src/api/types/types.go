package types

import (
	"fmt"
	"time"
)

// Users are owned by the surrounding product; we only keep the id so that
// wallets, locks and votes have something to hang off.
type User struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

// Projects are catalog rows maintained elsewhere. Governance only flips the
// featured/archived flags.
type Project struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Featured  bool   `gorm:"default:false"`
	Archived  bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Verified wallets. Address is unique for all time: first verifier wins.
type Wallet struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	Address    string    `gorm:"size:128;uniqueIndex;not null" json:"address"`
	UserID     uint64    `gorm:"index;not null" json:"userId"`
	Label      string    `gorm:"size:64" json:"label"`
	IsPrimary  bool      `gorm:"default:false" json:"isPrimary"`
	TxRef      string    `gorm:"size:128" json:"txRef"`
	VerifiedAt time.Time `json:"verifiedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Verification attempts are written for operators only; correctness never
// depends on them.
type VerificationAttempt struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    uint64 `gorm:"index;not null"`
	Address   string `gorm:"size:128;index;not null"`
	Code      string `gorm:"size:16;not null"`
	Status    string `gorm:"size:16;not null"`
	TxRef     string `gorm:"size:128"`
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tier is an ordered privilege level. The zero value means no tier.
type Tier uint8

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierDiamond
)

var tierNames = map[Tier]string{
	TierNone:    "NONE",
	TierBronze:  "BRONZE",
	TierSilver:  "SILVER",
	TierGold:    "GOLD",
	TierDiamond: "DIAMOND",
}

func (t Tier) String() string {
	if n, ok := tierNames[t]; ok {
		return n
	}
	return fmt.Sprintf("TIER(%d)", uint8(t))
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	for k, v := range tierNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", string(b))
}

// AtLeast reports whether t grants at least the privileges of min.
func (t Tier) AtLeast(min Tier) bool { return t >= min }

type LockStatus string

const (
	LockActive   LockStatus = "ACTIVE"
	LockExpired  LockStatus = "EXPIRED"
	LockViolated LockStatus = "VIOLATED"
	LockUnlocked LockStatus = "UNLOCKED"
)

// Locks claim custody of Amount base units in WalletAddress until LockEndDate.
//
// ActiveWallet mirrors WalletAddress while the lock is ACTIVE and is NULL
// otherwise; its unique index enforces one active lock per wallet in storage.
type Lock struct {
	ID             uint64     `gorm:"primaryKey" json:"id"`
	UserID         uint64     `gorm:"index;not null" json:"userId"`
	WalletAddress  string     `gorm:"size:128;index;not null" json:"walletAddress"`
	ActiveWallet   *string    `gorm:"size:128;uniqueIndex" json:"-"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Tier           Tier       `gorm:"not null" json:"tier"`
	DurationDays   int        `gorm:"not null" json:"durationDays"`
	LockStartDate  time.Time  `gorm:"not null" json:"lockStartDate"`
	LockEndDate    time.Time  `gorm:"index;not null" json:"lockEndDate"`
	Status         LockStatus `gorm:"size:16;index;not null" json:"status"`
	LastVerifiedAt time.Time  `json:"lastVerifiedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type ProposalStatus string

const (
	ProposalActive   ProposalStatus = "ACTIVE"
	ProposalPassed   ProposalStatus = "PASSED"
	ProposalRejected ProposalStatus = "REJECTED"
	ProposalExpired  ProposalStatus = "EXPIRED"
	ProposalExecuted ProposalStatus = "EXECUTED"
)

type ProposalType string

const (
	ProposalFeatureProject ProposalType = "FEATURE_PROJECT"
	ProposalDelistProject  ProposalType = "DELIST_PROJECT"
	ProposalCommunityPick  ProposalType = "COMMUNITY_PICK"
	ProposalPlatformChange ProposalType = "PLATFORM_CHANGE"
)

// ProposalTypes lists every proposal kind.
var ProposalTypes = []ProposalType{
	ProposalFeatureProject,
	ProposalDelistProject,
	ProposalCommunityPick,
	ProposalPlatformChange,
}

// TargetsProject reports whether proposals of this kind require a project id.
func (t ProposalType) TargetsProject() bool {
	return t != ProposalPlatformChange
}

type Proposal struct {
	ID            uint64         `gorm:"primaryKey" json:"id"`
	AuthorID      uint64         `gorm:"index;not null" json:"authorId"`
	Title         string         `gorm:"size:200;not null" json:"title"`
	Description   string         `gorm:"type:text;not null" json:"description"`
	Type          ProposalType   `gorm:"size:32;not null" json:"type"`
	ProjectID     *uint64        `gorm:"index" json:"projectId,omitempty"`
	Quorum        int64          `gorm:"not null" json:"quorum"`
	Threshold     float64        `gorm:"not null" json:"threshold"`
	StartDate     time.Time      `gorm:"not null" json:"startDate"`
	EndDate       time.Time      `gorm:"index;not null" json:"endDate"`
	Status        ProposalStatus `gorm:"size:16;index;not null" json:"status"`
	VotesFor      int64          `gorm:"not null;default:0" json:"votesFor"`
	VotesAgainst  int64          `gorm:"not null;default:0" json:"votesAgainst"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
	ExecutedAt    *time.Time     `json:"executedAt,omitempty"`
	ExecutionNote string         `gorm:"size:255" json:"executionNote,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Votes capture voting power at cast time; it is never recomputed.
type Vote struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	ProposalID  uint64    `gorm:"uniqueIndex:idx_vote_unique,priority:1;not null" json:"proposalId"`
	UserID      uint64    `gorm:"uniqueIndex:idx_vote_unique,priority:2;index;not null" json:"userId"`
	InFavor     bool      `gorm:"not null" json:"inFavor"`
	VotingPower int64     `gorm:"not null" json:"votingPower"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AllModels is the migration set, parents first.
var AllModels = []interface{}{
	&User{}, &Project{},
	&Wallet{}, &VerificationAttempt{},
	&Lock{},
	&Proposal{}, &Vote{},
}
