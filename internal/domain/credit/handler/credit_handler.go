package handler

import (
	"errors"
	"net/http"
	"strconv"

	"lawsowl_billing/internal/domain/credit/service"
	"lawsowl_billing/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreditHandler struct {
	service service.CreditService
}

func NewCreditHandler(s service.CreditService) *CreditHandler {
	return &CreditHandler{service: s}
}

type DebitInput struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Purpose     string `json:"purpose" binding:"required"`
	Description string `json:"description"`
}

// Debit 功能扣点
// 余额不足返回 200 + sufficient:false, 由前端引导充值
func (h *CreditHandler) Debit(c *gin.Context) {
	var input DebitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID := getUserIDFromContext(c)
	result, err := h.service.CheckAndDebit(c.Request.Context(), userID, input.Amount, input.Purpose, input.Description)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			response.Error(c, http.StatusBadRequest, response.ErrInvalidCreditAmount, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}

	if !result.Sufficient {
		response.Error(c, http.StatusOK, response.ErrInsufficientCredits, "insufficient credits")
		return
	}

	response.Success(c, result)
}

// History 流水分页查询
func (h *CreditHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	userID := getUserIDFromContext(c)
	items, total, err := h.service.History(userID, (page-1)*size, size)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}

	response.Success(c, gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

func getUserIDFromContext(c *gin.Context) string {
	val, _ := c.Get("userID")
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}
