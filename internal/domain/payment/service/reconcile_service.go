package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	creditmodel "lawsowl_billing/internal/domain/credit/model"
	creditsvc "lawsowl_billing/internal/domain/credit/service"
	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/internal/domain/payment/repository"
	"lawsowl_billing/internal/domain/payment/strategy"
	"lawsowl_billing/internal/domain/subscription/catalog"
	subsvc "lawsowl_billing/internal/domain/subscription/service"
	usermodel "lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/internal/pkg/worker"
	"lawsowl_billing/pkg/database"
	"lawsowl_billing/pkg/logger"
	"lawsowl_billing/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileOutcome 对账结果
type ReconcileOutcome string

const (
	OutcomeApplied          ReconcileOutcome = "applied"           // 事件已生效
	OutcomeAlreadyProcessed ReconcileOutcome = "already_processed" // 幂等闸命中, 无操作
	OutcomeOrderNotFound    ReconcileOutcome = "order_not_found"   // 找不到订单
	OutcomeIgnored          ReconcileOutcome = "ignored"           // 失败事件且无可记录的订单状态
)

// 回调去重键的保留时间, 覆盖网关的重发窗口
const dedupTTL = 48 * time.Hour

// ReconcileService 回调对账
type ReconcileService interface {
	// HandleNotify 验签 → 标准化 → 对账, 返回结果供 handler 决定应答
	HandleNotify(ctx context.Context, channel string, params interface{}) (ReconcileOutcome, error)

	// Reconcile 对一个标准化事件做一次原子对账
	Reconcile(ctx context.Context, event *model.PaymentEvent) (ReconcileOutcome, error)

	// Decode 只验签解密不对账, 前台跳回页展示结果用
	Decode(channel string, params interface{}) (*model.PaymentEvent, error)

	RegisterStrategy(channel string, s strategy.GatewayStrategy)
}

type reconcileService struct {
	repo       repository.PaymentRepository
	lifecycle  subsvc.LifecycleService
	credits    creditsvc.CreditService
	redis      *redis.Client
	metrics    *metrics.Collector
	deadLetter *worker.DeadLetterPool
	strategies map[string]strategy.GatewayStrategy
	strict     bool // 找不到订单时让网关重发
}

func NewReconcileService(
	repo repository.PaymentRepository,
	lifecycle subsvc.LifecycleService,
	credits creditsvc.CreditService,
	rdb *redis.Client,
	m *metrics.Collector,
	deadLetter *worker.DeadLetterPool,
	strictUnmatched bool,
) ReconcileService {
	return &reconcileService{
		repo:       repo,
		lifecycle:  lifecycle,
		credits:    credits,
		redis:      rdb,
		metrics:    m,
		deadLetter: deadLetter,
		strategies: make(map[string]strategy.GatewayStrategy),
		strict:     strictUnmatched,
	}
}

func (s *reconcileService) RegisterStrategy(channel string, gw strategy.GatewayStrategy) {
	s.strategies[channel] = gw
}

func (s *reconcileService) Decode(channel string, params interface{}) (*model.PaymentEvent, error) {
	gw, ok := s.strategies[channel]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for channel %s", channel)
	}
	return gw.Notify(params)
}

func (s *reconcileService) HandleNotify(ctx context.Context, channel string, params interface{}) (ReconcileOutcome, error) {
	gw, ok := s.strategies[channel]
	if !ok {
		return "", fmt.Errorf("no strategy registered for channel %s", channel)
	}

	// 验签解密在事务之外, 重试不产生网络调用
	event, err := gw.Notify(params)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveWebhook(channel, "unknown", "verification_failed")
		}
		return "", err
	}

	// Redis 去重只做快速通道: 命中说明同一报文已成功对账过,
	// 直接应答即可; 未命中不代表没处理过, 真正的幂等闸在事务里
	dedupKey := s.dedupKey(event)
	if s.redis != nil {
		if n, err := s.redis.Exists(ctx, dedupKey).Result(); err == nil && n > 0 {
			if s.metrics != nil {
				s.metrics.ObserveWebhook(channel, event.Kind, string(OutcomeAlreadyProcessed))
			}
			return OutcomeAlreadyProcessed, nil
		}
	}

	outcome, err := s.Reconcile(ctx, event)
	if s.metrics != nil {
		o := string(outcome)
		if err != nil {
			o = "error"
		}
		s.metrics.ObserveWebhook(channel, event.Kind, o)
	}
	if err != nil {
		return outcome, err
	}

	if outcome == OutcomeOrderNotFound {
		s.recordUnmatched(channel, event)
		if s.strict {
			return outcome, errors.New("order not found, requesting redelivery")
		}
		return outcome, nil
	}

	// 对账落库后才写去重键, 写失败无妨
	if s.redis != nil {
		s.redis.Set(ctx, dedupKey, 1, dedupTTL)
	}
	return outcome, nil
}

func (s *reconcileService) dedupKey(event *model.PaymentEvent) string {
	sum := sha256.Sum256([]byte(event.Channel + "|" + event.Raw))
	return "billing:webhook:dedup:" + hex.EncodeToString(sum[:])
}

func (s *reconcileService) recordUnmatched(channel string, event *model.PaymentEvent) {
	if s.metrics != nil {
		s.metrics.ObserveUnmatched(channel)
	}
	logger.Log.Warn("回调无法关联订单",
		zap.String("channel", channel),
		zap.String("order_no", event.OrderNo),
		zap.String("period_no", event.GatewayPeriodNo))

	if s.deadLetter != nil {
		s.deadLetter.Add(&model.UnmatchedNotification{
			Channel:    channel,
			OrderNo:    event.OrderNo,
			PeriodNo:   event.GatewayPeriodNo,
			RawPayload: event.Raw,
			Reason:     "order not found",
		})
	}
}

// snapshot 读阶段产物, 写阶段只依赖它做决策
type snapshot struct {
	order    *model.Order
	user     *usermodel.User
	existing *model.PeriodicPayment
}

func (s *reconcileService) Reconcile(ctx context.Context, event *model.PaymentEvent) (ReconcileOutcome, error) {
	var outcome ReconcileOutcome

	err := s.repo.Reconcile(ctx, func(tx repository.ReconcileTx) error {
		// ---- 读阶段: 把所有要写的行先读完 ----
		snap, err := s.readPhase(tx, event)
		if err != nil {
			return err
		}
		if snap == nil {
			outcome = OutcomeOrderNotFound
			return nil
		}

		// ---- 写阶段 ----
		switch event.Kind {
		case model.EventOneTimeResult:
			outcome, err = s.applyOneTime(tx, snap, event)
		case model.EventAgreementCreated:
			outcome, err = s.applyAgreement(tx, snap, event)
		case model.EventInstallmentResult:
			outcome, err = s.applyInstallment(tx, snap, event)
		default:
			err = fmt.Errorf("unknown event kind %q", event.Kind)
		}
		return err
	})
	if err != nil {
		if s.metrics != nil && errors.Is(err, database.ErrConflict) {
			s.metrics.ObserveConflict()
		}
		return outcome, err
	}
	return outcome, nil
}

func (s *reconcileService) readPhase(tx repository.ReconcileTx, event *model.PaymentEvent) (*snapshot, error) {
	var order *model.Order
	var err error

	if event.OrderNo != "" {
		order, err = tx.OrderByNo(event.OrderNo)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if order == nil && event.GatewayPeriodNo != "" {
		// 续扣回调可能只带委托单号
		order, err = tx.OrderByPeriodNo(event.GatewayPeriodNo)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if order == nil {
		return nil, nil
	}

	user, err := tx.UserByID(order.UserID)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{order: order, user: user}
	if event.Kind == model.EventInstallmentResult && event.InstallmentNo > 0 {
		snap.existing, err = tx.PeriodicPayment(order.OrderNo, event.InstallmentNo)
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *reconcileService) applyOneTime(tx repository.ReconcileTx, snap *snapshot, event *model.PaymentEvent) (ReconcileOutcome, error) {
	order := snap.order

	// 一次性订单的幂等闸: 只有 PENDING 才接受, 其余都是重发
	if order.Status != model.StatusPendingPayment {
		return OutcomeAlreadyProcessed, nil
	}

	if !event.Success {
		if err := tx.UpdateOrder(order.OrderNo, map[string]interface{}{
			"status":           model.StatusFailed,
			"gateway_trade_no": event.GatewayTradeNo,
			"failure_reason":   failureReason(event),
		}); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}

	if err := tx.UpdateOrder(order.OrderNo, map[string]interface{}{
		"status":           model.StatusPaid,
		"gateway_trade_no": event.GatewayTradeNo,
	}); err != nil {
		return "", err
	}

	switch order.ItemType {
	case model.ItemTypePackage:
		pkg, ok := catalog.GetPackage(order.ItemID)
		if !ok {
			return "", fmt.Errorf("order %s references unknown package %q", order.OrderNo, order.ItemID)
		}
		purpose := creditmodel.PurposePrefixPackage + pkg.ID
		if _, err := s.credits.CreditInTx(tx, snap.user, pkg.Credits, purpose, order.OrderNo, order.Description); err != nil {
			return "", err
		}

	case model.ItemTypePlan:
		// 年付方案一次付清, 激活一整年
		if err := s.lifecycle.Activate(tx, snap.user, order.ItemID, order.BillingCycle, order.OrderNo, time.Now()); err != nil {
			return "", err
		}

	default:
		return "", fmt.Errorf("order %s has unknown item type %q", order.OrderNo, order.ItemType)
	}

	return OutcomeApplied, nil
}

func (s *reconcileService) applyAgreement(tx repository.ReconcileTx, snap *snapshot, event *model.PaymentEvent) (ReconcileOutcome, error) {
	order := snap.order

	if !event.Success {
		return s.applyPeriodFailure(tx, snap, event)
	}

	// 委托建立的幂等闸: 已带同一委托单号的 AGREEMENT_CREATED 即重发
	if order.Status == model.StatusAgreementCreated && order.GatewayPeriodNo == event.GatewayPeriodNo {
		return OutcomeAlreadyProcessed, nil
	}
	if !model.CanTransition(order.Status, model.StatusAgreementCreated) {
		return OutcomeAlreadyProcessed, nil
	}

	fields := map[string]interface{}{
		"status":            model.StatusAgreementCreated,
		"gateway_period_no": event.GatewayPeriodNo,
	}
	if event.TotalInstallments > 0 {
		fields["total_installments"] = event.TotalInstallments
	}
	if err := tx.UpdateOrder(order.OrderNo, fields); err != nil {
		return "", err
	}

	// 委托单号挂到用户上, 后续续扣回调靠它反查
	if err := tx.UpdateUser(snap.user.ID, map[string]interface{}{
		"gateway_subscription_id": event.GatewayPeriodNo,
		"subscription_order_no":   order.OrderNo,
	}); err != nil {
		return "", err
	}

	// 首期授权成功时一并激活订阅并落第 1 期记录,
	// 这样网关再补发第 1 期的续扣回调会被幂等闸挡掉
	if event.RespondCode == "00" && event.AuthCode != "" {
		if err := tx.CreatePeriodicPayment(&model.PeriodicPayment{
			OrderNo:        order.OrderNo,
			InstallmentNo:  1,
			AuthDate:       event.AuthDate,
			AuthCode:       event.AuthCode,
			GatewayTradeNo: event.GatewayTradeNo,
			Amount:         event.AmountPaid,
			Status:         "SUCCESS",
			ProcessedAt:    time.Now(),
		}); err != nil {
			return "", err
		}

		if err := s.lifecycle.Activate(tx, snap.user, order.ItemID, order.BillingCycle, order.OrderNo, time.Now()); err != nil {
			return "", err
		}
	}

	return OutcomeApplied, nil
}

func (s *reconcileService) applyInstallment(tx repository.ReconcileTx, snap *snapshot, event *model.PaymentEvent) (ReconcileOutcome, error) {
	order := snap.order

	if !event.Success {
		return s.applyPeriodFailure(tx, snap, event)
	}

	// 续扣的幂等闸是期数记录本身, 故意不看订单状态:
	// PERIODIC_PAYMENT_FAILED 后下一期扣款成功仍然入账 (宽限期恢复)
	if snap.existing != nil {
		return OutcomeAlreadyProcessed, nil
	}

	if err := tx.CreatePeriodicPayment(&model.PeriodicPayment{
		OrderNo:        order.OrderNo,
		InstallmentNo:  event.InstallmentNo,
		AuthDate:       event.AuthDate,
		AuthCode:       event.AuthCode,
		GatewayTradeNo: event.GatewayTradeNo,
		Amount:         event.AmountPaid,
		Status:         "SUCCESS",
		ProcessedAt:    time.Now(),
	}); err != nil {
		return "", err
	}

	total := order.TotalInstallments
	if event.TotalInstallments > 0 {
		total = event.TotalInstallments
	}

	if total > 0 && event.InstallmentNo >= total {
		// 最后一期: 发赠点后委托期满
		if model.CanTransition(order.Status, model.StatusCompletedPeriods) {
			if err := tx.UpdateOrder(order.OrderNo, map[string]interface{}{
				"status":           model.StatusCompletedPeriods,
				"gateway_trade_no": event.GatewayTradeNo,
			}); err != nil {
				return "", err
			}
		}
		if err := s.lifecycle.Complete(tx, snap.user, order.ItemID, order.OrderNo, time.Now()); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}

	// 普通一期: 记录最新交易号, 订单状态回到 (或保持) AGREEMENT_CREATED
	fields := map[string]interface{}{
		"gateway_trade_no": event.GatewayTradeNo,
	}
	if order.Status != model.StatusAgreementCreated && model.CanTransition(order.Status, model.StatusAgreementCreated) {
		fields["status"] = model.StatusAgreementCreated
	}
	if err := tx.UpdateOrder(order.OrderNo, fields); err != nil {
		return "", err
	}

	if err := s.lifecycle.Renew(tx, snap.user, order.ItemID, order.OrderNo, time.Now()); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// applyPeriodFailure 委托失败事件: 落点由订单当前状态决定
func (s *reconcileService) applyPeriodFailure(tx repository.ReconcileTx, snap *snapshot, event *model.PaymentEvent) (ReconcileOutcome, error) {
	order := snap.order

	var failureStatus string
	switch order.Status {
	case model.StatusAgreementCreated, model.StatusPeriodicPaymentFailed:
		failureStatus = model.StatusPeriodicPaymentFailed
	case model.StatusPendingPayment:
		failureStatus = model.StatusAgreementFailed
	default:
		// 终态订单收到失败重发, 没有可做的
		return OutcomeIgnored, nil
	}

	if order.Status != failureStatus {
		if err := tx.UpdateOrder(order.OrderNo, map[string]interface{}{
			"status":         failureStatus,
			"failure_reason": failureReason(event),
		}); err != nil {
			return "", err
		}
	}

	if err := s.lifecycle.MarkPaymentFailed(tx, snap.user, failureReason(event)); err != nil {
		return "", err
	}

	logger.Log.Warn("委托扣款失败",
		zap.String("order_no", order.OrderNo),
		zap.String("status", failureStatus),
		zap.String("reason", failureReason(event)))

	return OutcomeApplied, nil
}

func failureReason(event *model.PaymentEvent) string {
	if event.Message != "" {
		return event.RespondCode + ": " + event.Message
	}
	return event.RespondCode
}
