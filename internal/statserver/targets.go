package statserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
)

type CreateTargetRequest struct {
	Name string   `json:"name" binding:"required"`
	Args []string `json:"args"`
}

func (h *APIStore) ListTargets(c *gin.Context) {
	targets := h.registry.List()

	infos := make([]proxy.TargetInfo, 0, len(targets))
	for _, t := range targets {
		infos = append(infos, t.Info())
	}

	c.JSON(http.StatusOK, infos)
}

func (h *APIStore) CreateTarget(c *gin.Context) {
	var body CreateTargetRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid body for target: %s", err))

		return
	}

	target, err := h.registry.Create(c.Request.Context(), body.Name, body.Args)
	if err != nil {
		h.logger.Warn("error creating target", zap.String("target", body.Name), zap.Error(err))
		h.sendAPIStoreError(c, statusFor(err), err.Error())

		return
	}

	c.JSON(http.StatusCreated, target.Info())
}

func (h *APIStore) RemoveTarget(c *gin.Context) {
	name := c.Param("name")

	err := h.registry.Remove(c.Request.Context(), name)
	if err != nil {
		h.logger.Warn("error removing target", zap.String("target", name), zap.Error(err))
		h.sendAPIStoreError(c, statusFor(err), err.Error())

		return
	}

	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	var cerr *proxy.ConstructionError

	switch {
	case errors.As(err, &cerr), errors.Is(err, proxy.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, proxy.ErrTargetExists):
		return http.StatusConflict
	case errors.Is(err, proxy.ErrTargetNotFound):
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}
