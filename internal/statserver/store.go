package statserver

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

type APIError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

type APIStore struct {
	logger   *zap.Logger
	store    *stats.Store
	registry *proxy.Registry
}

func NewAPIStore(logger *zap.Logger, store *stats.Store, registry *proxy.Registry) *APIStore {
	return &APIStore{
		logger:   logger,
		store:    store,
		registry: registry,
	}
}

func (h *APIStore) sendAPIStoreError(c *gin.Context, code int, message string) {
	apiErr := APIError{
		Code:    int32(code),
		Message: message,
	}

	_ = c.Error(errors.New(message))
	c.JSON(code, apiErr)
}
