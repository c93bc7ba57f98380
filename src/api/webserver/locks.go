package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/governance"
	"github.com/stake-plus/stakegate/src/api/locks"
)

type Locks struct {
	locks *locks.Engine
	gov   *governance.Engine
	log   *zap.Logger
}

func NewLocks(le *locks.Engine, ge *governance.Engine, log *zap.Logger) Locks {
	return Locks{locks: le, gov: ge, log: log}
}

func (l Locks) Tiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": locks.ListTiers()})
}

func (l Locks) List(c *gin.Context) {
	ls, err := l.locks.GetUserLocks(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, l.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": ls})
}

func (l Locks) Create(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
		Amount        int64  `json:"amount"        binding:"required,gt=0"`
		DurationDays  int    `json:"durationDays"  binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	lock, err := l.locks.CreateLock(c.Request.Context(), userID(c), req.WalletAddress, req.Amount, req.DurationDays)
	if err != nil {
		fail(c, l.log, err)
		return
	}
	c.JSON(http.StatusCreated, lock)
}

func (l Locks) Unlock(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, l.log, errs.Validation("bad lock id"))
		return
	}
	lock, err := l.locks.UnlockLock(c.Request.Context(), userID(c), id)
	if err != nil {
		fail(c, l.log, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

// MyTier reports the caller's tier together with what it allows.
func (l Locks) MyTier(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	tier, err := l.locks.GetUserTier(ctx, uid)
	if err != nil {
		fail(c, l.log, err)
		return
	}
	power, err := l.gov.GetVotingPower(ctx, uid)
	if err != nil {
		fail(c, l.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tier":        tier,
		"votingPower": power,
		"canVote":     tier.AtLeast(governance.MinVotingTier),
		"canPropose":  tier.AtLeast(governance.MinProposingTier),
	})
}
