package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/errs"
	"github.com/stake-plus/stakegate/src/logging"
)

var statusByKind = map[errs.Kind]int{
	errs.KindValidation:   http.StatusBadRequest,
	errs.KindUnauthorized: http.StatusUnauthorized,
	errs.KindForbidden:    http.StatusForbidden,
	errs.KindNotFound:     http.StatusNotFound,
	errs.KindConflict:     http.StatusConflict,
	errs.KindTerminal:     http.StatusGone,
	errs.KindUnavailable:  http.StatusServiceUnavailable,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	if s, ok := statusByKind[errs.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// fail writes err in the {"err", "kind"} shape. Internal errors are logged
// and their text withheld.
func fail(c *gin.Context, log *zap.Logger, err error) {
	kind := errs.KindOf(err)
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfter(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"err": msg, "kind": kind})
}

// retryAfter asks clients to back off longer when the ledger itself is
// throttling us.
func retryAfter(err error) string {
	if logging.IsRateLimit(err) {
		return "30"
	}
	return "5"
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"err": err.Error(), "kind": errs.KindValidation})
}
