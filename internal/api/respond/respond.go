// Package respond writes the JSON envelopes shared by all handlers.
package respond

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"bookstore-backend/internal/apperr"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// Page writes a list together with its pagination totals.
func Page(c *gin.Context, data any, total int64, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
		"meta":    gin.H{"total": total, "page": page, "limit": limit},
	})
}

// Error maps err to its HTTP status and writes {"success": false, "error": reason}.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		var ae *apperr.Error
		cause := err
		if errors.As(err, &ae) && ae.Err != nil {
			cause = ae.Err
		}
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "err", cause)
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"success": false, "error": apperr.Message(err)})
}

// BadRequest rejects a malformed request body or query.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

// ID reads a positive integer path parameter.
func ID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		BadRequest(c, "Invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// Paging reads ?page= and ?limit=. Invalid values fall back to the defaults.
func Paging(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
