package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/engine"
	"github.com/merlian/merlian/internal/jobs"
	"github.com/merlian/merlian/internal/logutil"
	"github.com/merlian/merlian/internal/search/index"
)

// APIError is the error body of every failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": APIError{Code: code, Message: message}})
}

func handleError(c *gin.Context, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, engine.ErrInvalidInput):
		fail(c, http.StatusBadRequest, "invalid", err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, jobs.ErrJobActive), errors.Is(err, index.ErrIndexBusy):
		fail(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, jobs.ErrClosed):
		fail(c, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		logutil.GetLogger(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
