package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/internal/pkg/config"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/native"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// WechatStrategy 微信 Native 扫码支付, 只承接一次性订单
type WechatStrategy struct {
	client  *core.Client
	config  config.WechatPayConfig
	handler *notify.Handler
}

func NewWechatStrategy() (*WechatStrategy, error) {
	cfg := config.GlobalConfig.Wechat
	if cfg.MchID == "" {
		return nil, errors.New("wechat pay config missing")
	}

	// 1. 加载商户私钥
	mchPrivateKey, err := utils.LoadPrivateKey(cfg.MchPrivateKey)
	if err != nil {
		return nil, err
	}

	// 2. 初始化 Client
	ctx := context.Background()
	opts := []core.ClientOption{
		option.WithWechatPayAutoAuthCipher(cfg.MchID, cfg.MchCertificateSerial, mchPrivateKey, cfg.APIv3Key),
	}

	client, err := core.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	// 3. 初始化证书管理器 (用于验签)
	certVisitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)

	// 4. 初始化 Notify Handler
	handler := notify.NewNotifyHandler(cfg.APIv3Key, verifiers.NewSHA256WithRSAVerifier(certVisitor))

	return &WechatStrategy{
		client:  client,
		config:  cfg,
		handler: handler,
	}, nil
}

func (s *WechatStrategy) Pay(order *model.Order, opts *CheckoutOptions) (*CheckoutParams, error) {
	// TWD 金额按分计
	req := native.PrepayRequest{
		Appid:       core.String(s.config.AppID),
		Mchid:       core.String(s.config.MchID),
		Description: core.String(order.Description),
		OutTradeNo:  core.String(order.OrderNo),
		NotifyUrl:   core.String(s.config.NotifyURL),
		Amount: &native.Amount{
			Total: core.Int64(order.Amount * 100),
		},
	}

	svc := native.NativeApiService{Client: s.client}
	resp, _, err := svc.Prepay(context.Background(), req)
	if err != nil {
		return nil, err
	}

	return &CheckoutParams{
		GatewayURL: *resp.CodeUrl,
		Method:     "GET",
	}, nil
}

func (s *WechatStrategy) Notify(params interface{}) (*model.PaymentEvent, error) {
	req, ok := params.(*http.Request)
	if !ok {
		return nil, errors.New("invalid params type, expected *http.Request")
	}

	transaction := new(payments.Transaction)
	if _, err := s.handler.ParseNotifyRequest(context.Background(), req, transaction); err != nil {
		return nil, ErrVerificationFailed
	}

	success := transaction.TradeState != nil && *transaction.TradeState == "SUCCESS"

	// Raw 参与去重键, 必须能区分不同报文
	raw, _ := json.Marshal(transaction)

	event := &model.PaymentEvent{
		Kind:    model.EventOneTimeResult,
		Channel: "wechat",
		Success: success,
		Raw:     string(raw),
	}
	if transaction.OutTradeNo != nil {
		event.OrderNo = *transaction.OutTradeNo
	}
	if transaction.TransactionId != nil {
		event.GatewayTradeNo = *transaction.TransactionId
	}
	if transaction.TradeState != nil {
		event.RespondCode = *transaction.TradeState
	}
	if transaction.Amount != nil && transaction.Amount.Total != nil {
		event.AmountPaid = *transaction.Amount.Total / 100
	}

	return event, nil
}

var _ GatewayStrategy = (*WechatStrategy)(nil)
