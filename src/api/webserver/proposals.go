package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/api/governance"
	"github.com/stake-plus/stakegate/src/api/types"
)

const maxPageSize = 100

type Proposals struct {
	gov *governance.Engine
	log *zap.Logger
}

func NewProposals(ge *governance.Engine, log *zap.Logger) Proposals {
	return Proposals{gov: ge, log: log}
}

func (p Proposals) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	status := types.ProposalStatus(c.Query("status"))
	views, err := p.gov.ListProposals(c.Request.Context(), userID(c), status, limit, offset)
	if err != nil {
		fail(c, p.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": views})
}

func (p Proposals) Get(c *gin.Context) {
	id, ok := p.id(c)
	if !ok {
		return
	}
	view, err := p.gov.GetProposal(c.Request.Context(), userID(c), id)
	if err != nil {
		fail(c, p.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (p Proposals) Create(c *gin.Context) {
	var req governance.ProposalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	prop, err := p.gov.CreateProposal(c.Request.Context(), userID(c), req)
	if err != nil {
		fail(c, p.log, err)
		return
	}
	c.JSON(http.StatusCreated, prop)
}

func (p Proposals) Vote(c *gin.Context) {
	id, ok := p.id(c)
	if !ok {
		return
	}
	var req struct {
		InFavor *bool `json:"inFavor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	vote, err := p.gov.CastVote(c.Request.Context(), id, userID(c), *req.InFavor)
	if err != nil {
		fail(c, p.log, err)
		return
	}
	c.JSON(http.StatusCreated, vote)
}

func (p Proposals) id(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, p.log, errs.Validation("bad proposal id"))
		return 0, false
	}
	return id, true
}
