package webserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/challenge"
	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/verify"
)

type Wallets struct {
	verify *verify.Service
	store  *store.Store
	log    *zap.Logger
}

func NewWallets(v *verify.Service, st *store.Store, log *zap.Logger) Wallets {
	return Wallets{verify: v, store: st, log: log}
}

func (w Wallets) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	issued, err := w.verify.CreateChallenge(c.Request.Context(), userID(c), req.Address)
	if err != nil {
		fail(c, w.log, err)
		return
	}
	c.JSON(http.StatusOK, issued)
}

// Verify is the polling endpoint: pending comes back as 200 with
// status=pending, and the client simply asks again.
func (w Wallets) Verify(c *gin.Context) {
	var req struct {
		Challenge string `json:"challenge" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := w.verify.Poll(c.Request.Context(), userID(c), req.Challenge)
	w.respond(c, res, err)
}

func (w Wallets) Confirm(c *gin.Context) {
	var req struct {
		Challenge string `json:"challenge" binding:"required"`
		TxHash    string `json:"txHash"    binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := w.verify.Confirm(c.Request.Context(), userID(c), req.Challenge, req.TxHash)
	w.respond(c, res, err)
}

func (w Wallets) respond(c *gin.Context, res verify.Result, err error) {
	if errors.Is(err, challenge.ErrExpired) {
		c.JSON(http.StatusGone, gin.H{"status": res.Status, "address": res.Address, "err": err.Error(), "kind": "terminal"})
		return
	}
	if err != nil {
		fail(c, w.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (w Wallets) List(c *gin.Context) {
	ws, err := w.store.ListWallets(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, w.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": ws})
}

func (w Wallets) Update(c *gin.Context) {
	var req struct {
		Label     *string `json:"label"     binding:"omitempty,max=64"`
		IsPrimary bool    `json:"isPrimary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	addr := strings.ToLower(strings.TrimSpace(c.Param("address")))
	wallet, err := w.store.UpdateWallet(c.Request.Context(), userID(c), addr, req.Label, req.IsPrimary)
	if err != nil {
		fail(c, w.log, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (w Wallets) Delete(c *gin.Context) {
	addr := strings.ToLower(strings.TrimSpace(c.Param("address")))
	if err := w.store.DeleteWallet(c.Request.Context(), userID(c), addr); err != nil {
		fail(c, w.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
