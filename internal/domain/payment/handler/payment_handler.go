package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"lawsowl_billing/internal/domain/payment/repository"
	"lawsowl_billing/internal/domain/payment/service"
	"lawsowl_billing/internal/pkg/config"
	"lawsowl_billing/pkg/database"
	"lawsowl_billing/pkg/response"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	checkout  service.CheckoutService
	reconcile service.ReconcileService
	repo      repository.PaymentRepository
}

func NewPaymentHandler(checkout service.CheckoutService, reconcile service.ReconcileService, repo repository.PaymentRepository) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, reconcile: reconcile, repo: repo}
}

type InitiateCheckoutInput struct {
	ItemType     string `json:"itemType" binding:"required,oneof=plan package"`
	ItemID       string `json:"itemId" binding:"required"`
	BillingCycle string `json:"billingCycle" binding:"omitempty,oneof=monthly annually"`
	Channel      string `json:"channel" binding:"omitempty,oneof=newebpay alipay wechat"`
	// 月付委托首期授权方式, 1=10 元验证
	PeriodStartType string `json:"periodStartType" binding:"omitempty,oneof=1 2 3"`
}

// InitiateCheckout 下单
func (h *PaymentHandler) InitiateCheckout(c *gin.Context) {
	var input InitiateCheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	if input.Channel == "" {
		input.Channel = "newebpay"
	}

	userID := getUserIDFromContext(c)
	order, params, err := h.checkout.InitiateCheckout(userID, input.ItemType, input.ItemID, input.BillingCycle, input.Channel, input.PeriodStartType)
	switch {
	case errors.Is(err, service.ErrInvalidItem):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidItem, err.Error())
		return
	case errors.Is(err, service.ErrInvalidBillingCycle):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidBillingCycle, err.Error())
		return
	case errors.Is(err, service.ErrUnsupportedChannel):
		response.Error(c, http.StatusBadRequest, response.ErrUnsupportedChannel, err.Error())
		return
	case err != nil:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}

	response.Success(c, gin.H{
		"orderNo":  order.OrderNo,
		"checkout": params,
	})
}

// MpgNotify 蓝新一次性支付回调
// 应答纯文本: 2xx 停止重发, 其余网关会重试
func (h *PaymentHandler) MpgNotify(c *gin.Context) {
	c.Request.ParseForm()
	h.answerNewebpay(c, "newebpay", c.Request.PostForm)
}

// PeriodNotify 蓝新定期定额回调
func (h *PaymentHandler) PeriodNotify(c *gin.Context) {
	c.Request.ParseForm()
	h.answerNewebpay(c, "newebpay_period", c.Request.PostForm)
}

func (h *PaymentHandler) answerNewebpay(c *gin.Context, channel string, params interface{}) {
	_, err := h.reconcile.HandleNotify(c.Request.Context(), channel, params)
	switch {
	case err == nil:
		response.Ack(c, "SUCCESS")
	case errors.Is(err, database.ErrConflict):
		// 事务冲突是瞬时的, 让网关重发
		response.AckRetry(c, http.StatusInternalServerError, "RETRY")
	default:
		response.AckRetry(c, http.StatusBadRequest, "FAIL")
	}
}

// GeneralNotify 兜底回调: 按报文形状分流到 MPG 或 Period 对账
// 网关后台只配一个通知地址时走这里
func (h *PaymentHandler) GeneralNotify(c *gin.Context) {
	c.Request.ParseForm()
	form := c.Request.PostForm
	if form.Get("Period") != "" {
		h.answerNewebpay(c, "newebpay_period", form)
		return
	}
	h.answerNewebpay(c, "newebpay", form)
}

// MpgReturn 蓝新支付完成跳回, 解出结果带给前端展示
// 不做任何对账, 真正的状态以 Notify 为准
func (h *PaymentHandler) MpgReturn(c *gin.Context) {
	c.Request.ParseForm()
	target := config.GlobalConfig.App.BaseURL + "/payment/result"
	c.Redirect(http.StatusFound, target+h.returnQuery("newebpay", c.Request.PostForm))
}

// PeriodReturn 定期定额跳回
func (h *PaymentHandler) PeriodReturn(c *gin.Context) {
	c.Request.ParseForm()
	target := config.GlobalConfig.App.BaseURL + "/subscription/result"
	c.Redirect(http.StatusFound, target+h.returnQuery("newebpay_period", c.Request.PostForm))
}

func (h *PaymentHandler) returnQuery(channel string, form url.Values) string {
	event, err := h.reconcile.Decode(channel, form)
	q := url.Values{}
	if err != nil || event == nil {
		q.Set("status", "unknown")
		return "?" + q.Encode()
	}
	if event.Success {
		q.Set("status", "success")
	} else {
		q.Set("status", "fail")
	}
	if event.OrderNo != "" {
		q.Set("orderNo", event.OrderNo)
	}
	if event.Message != "" {
		q.Set("message", event.Message)
	}
	return "?" + q.Encode()
}

// AlipayNotify 支付宝回调
func (h *PaymentHandler) AlipayNotify(c *gin.Context) {
	// 支付宝回调是 POST Form 格式
	c.Request.ParseForm()
	_, err := h.reconcile.HandleNotify(c.Request.Context(), "alipay", c.Request.Form)
	if err != nil {
		c.String(http.StatusOK, "fail") // 告诉支付宝处理失败，它会重试
		return
	}
	c.String(http.StatusOK, "success")
}

// WechatNotify 微信支付回调
func (h *PaymentHandler) WechatNotify(c *gin.Context) {
	// 微信支付回调是 JSON 格式，且需要从 Header 获取签名信息
	_, err := h.reconcile.HandleNotify(c.Request.Context(), "wechat", c.Request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// OrderStatus 查单
func (h *PaymentHandler) OrderStatus(c *gin.Context) {
	orderNo := c.Param("orderNo")
	userID := getUserIDFromContext(c)

	order, err := h.checkout.OrderByNo(orderNo)
	if err != nil {
		response.Error(c, http.StatusNotFound, response.ErrOrderNotFound, "order not found")
		return
	}
	if order.UserID != userID {
		response.Error(c, http.StatusForbidden, response.ErrNoPermission, "not your order")
		return
	}
	response.Success(c, order)
}

// ListUnmatched 管理端: 无法关联订单的回调列表, 人工补单入口
func (h *PaymentHandler) ListUnmatched(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	items, total, err := h.repo.ListUnmatchedNotifications((page-1)*size, size)
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
