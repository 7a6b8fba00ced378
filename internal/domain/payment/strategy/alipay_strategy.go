package strategy

import (
	"errors"
	"fmt"
	"net/url"

	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/internal/pkg/config"

	"github.com/smartwalle/alipay/v3"
)

// AlipayStrategy 支付宝网页支付, 只承接一次性订单
type AlipayStrategy struct {
	client *alipay.Client
	config config.AlipayConfig
}

func NewAlipayStrategy() (*AlipayStrategy, error) {
	cfg := config.GlobalConfig.Alipay
	if cfg.AppID == "" {
		return nil, errors.New("alipay config missing")
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction)
	if err != nil {
		return nil, err
	}

	// 加载支付宝公钥 (用于验证签名)
	if err = client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, err
	}

	return &AlipayStrategy{
		client: client,
		config: cfg,
	}, nil
}

// Pay 生成网页支付跳转链接
func (s *AlipayStrategy) Pay(order *model.Order, opts *CheckoutOptions) (*CheckoutParams, error) {
	p := alipay.TradePagePay{}
	p.NotifyURL = s.config.NotifyURL
	p.ReturnURL = s.config.ReturnURL
	p.Subject = order.Description
	p.OutTradeNo = order.OrderNo
	p.TotalAmount = fmt.Sprintf("%d.00", order.Amount)
	p.ProductCode = "FAST_INSTANT_TRADE_PAY"

	payURL, err := s.client.TradePagePay(p)
	if err != nil {
		return nil, err
	}

	return &CheckoutParams{
		GatewayURL: payURL.String(),
		Method:     "GET",
	}, nil
}

// Notify 处理异步回调
func (s *AlipayStrategy) Notify(params interface{}) (*model.PaymentEvent, error) {
	values, ok := params.(url.Values)
	if !ok {
		return nil, errors.New("invalid params type, expected url.Values")
	}

	noti, err := s.client.DecodeNotification(values)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	// TRADE_SUCCESS 或 TRADE_FINISHED 表示成功
	success := noti.TradeStatus == alipay.TradeStatusSuccess || noti.TradeStatus == alipay.TradeStatusFinished

	return &model.PaymentEvent{
		Kind:           model.EventOneTimeResult,
		Channel:        "alipay",
		OrderNo:        noti.OutTradeNo,
		Success:        success,
		RespondCode:    string(noti.TradeStatus),
		GatewayTradeNo: noti.TradeNo,
		Raw:            values.Encode(),
	}, nil
}

var _ GatewayStrategy = (*AlipayStrategy)(nil)
