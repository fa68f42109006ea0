package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/ai"
	"github.com/thehao1505/backend-capstone/internal/middleware"
	"github.com/thehao1505/backend-capstone/internal/pkg/errcode"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
	"github.com/thehao1505/backend-capstone/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErr.ErrInvalid
	}
	return v, nil
}

func parsePaging(c *gin.Context) (int, int, error) {
	page, err := queryInt(c, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// handleError maps domain errors to errcode values. ErrRetrieval is checked
// before ErrDependency since retrieval failures often wrap both.
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)
	code := codeFor(err)
	response.Error(c, code, errcode.Message(code))
}

func codeFor(err error) int {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany
	case errors.Is(err, appErr.ErrRetrieval):
		return errcode.ErrRetrieval
	case errors.Is(err, ai.ErrUnavailable):
		return errcode.ErrAIUnavailable
	case errors.Is(err, appErr.ErrDependency):
		return errcode.ErrDependency
	default:
		return errcode.ErrInternal
	}
}
