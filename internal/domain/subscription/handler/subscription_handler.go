package handler

import (
	"errors"
	"net/http"

	"lawsowl_billing/internal/domain/subscription/catalog"
	"lawsowl_billing/internal/domain/subscription/service"
	"lawsowl_billing/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SubscriptionHandler struct {
	service service.LifecycleService
}

func NewSubscriptionHandler(s service.LifecycleService) *SubscriptionHandler {
	return &SubscriptionHandler{service: s}
}

// Status 订阅状态查询
func (h *SubscriptionHandler) Status(c *gin.Context) {
	userID := getUserIDFromContext(c)
	info, err := h.service.Status(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, info)
}

type DowngradeInput struct {
	TargetLevel string `json:"targetLevel" binding:"required"`
}

// ScheduleDowngrade 预约降级
func (h *SubscriptionHandler) ScheduleDowngrade(c *gin.Context) {
	var input DowngradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID := getUserIDFromContext(c)
	err := h.service.ScheduleDowngrade(c.Request.Context(), userID, input.TargetLevel)
	switch {
	case errors.Is(err, service.ErrPlanNotFound):
		response.Error(c, http.StatusBadRequest, response.ErrPlanNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidDowngrade):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidDowngrade, err.Error())
	case errors.Is(err, service.ErrNoActiveSubscription):
		response.Error(c, http.StatusBadRequest, response.ErrNoActiveSubscription, err.Error())
	case err != nil:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	default:
		response.Success(c, nil)
	}
}

// CancelDowngrade 取消降级预约
func (h *SubscriptionHandler) CancelDowngrade(c *gin.Context) {
	userID := getUserIDFromContext(c)
	err := h.service.CancelDowngrade(c.Request.Context(), userID)
	switch {
	case errors.Is(err, service.ErrNoPendingDowngrade):
		response.Error(c, http.StatusBadRequest, response.ErrNoPendingDowngrade, err.Error())
	case err != nil:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	default:
		response.Success(c, nil)
	}
}

type AdminExpireInput struct {
	UserID string `json:"userId" binding:"required"`
}

// AdminExpire 后台终止订阅, 处理在网关侧被取消的委托
func (h *SubscriptionHandler) AdminExpire(c *gin.Context) {
	var input AdminExpireInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	err := h.service.ExpireSubscription(c.Request.Context(), input.UserID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.Error(c, http.StatusNotFound, response.ErrUserNotFound, "user not found")
	case errors.Is(err, service.ErrNoActiveSubscription):
		response.Error(c, http.StatusBadRequest, response.ErrNoActiveSubscription, err.Error())
	case err != nil:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	default:
		response.Success(c, nil)
	}
}

// Plans 方案列表, 静态目录
func (h *SubscriptionHandler) Plans(c *gin.Context) {
	response.Success(c, catalog.Plans())
}

// Packages 点数包列表
func (h *SubscriptionHandler) Packages(c *gin.Context) {
	response.Success(c, catalog.Packages())
}

func getUserIDFromContext(c *gin.Context) string {
	val, _ := c.Get("userID")
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}
