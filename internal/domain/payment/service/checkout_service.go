package service

import (
	"errors"
	"fmt"
	"strings"

	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/internal/domain/payment/repository"
	"lawsowl_billing/internal/domain/payment/strategy"
	"lawsowl_billing/internal/domain/subscription/catalog"
	userrepo "lawsowl_billing/internal/domain/user/repository"
	usermodel "lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidItem         = errors.New("unknown plan or package")
	ErrInvalidBillingCycle = errors.New("billing cycle must be monthly or annually")
	ErrUnsupportedChannel  = errors.New("unsupported payment channel")
)

// 月付委托默认期数
const defaultPeriodTimes = 12

// CheckoutService 下单
type CheckoutService interface {
	// InitiateCheckout 建 PENDING 订单并生成网关跳转参数
	// periodStartType 只对月付委托有效: 1=10 元验证, 2=立即全额 (默认), 3=不检查
	InitiateCheckout(userID, itemType, itemID, billingCycle, channel, periodStartType string) (*model.Order, *strategy.CheckoutParams, error)

	// OrderByNo 查单
	OrderByNo(orderNo string) (*model.Order, error)
}

type checkoutService struct {
	repo       repository.PaymentRepository
	users      userrepo.UserRepository
	strategies map[string]strategy.GatewayStrategy
}

func NewCheckoutService(repo repository.PaymentRepository, users userrepo.UserRepository, strategies map[string]strategy.GatewayStrategy) CheckoutService {
	return &checkoutService{repo: repo, users: users, strategies: strategies}
}

func (s *checkoutService) InitiateCheckout(userID, itemType, itemID, billingCycle, channel, periodStartType string) (*model.Order, *strategy.CheckoutParams, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, nil, err
	}

	var (
		amount      int64
		description string
		opts        strategy.CheckoutOptions
	)
	opts.Email = user.Email

	switch itemType {
	case model.ItemTypePlan:
		plan, ok := catalog.GetPlan(itemID)
		if !ok {
			return nil, nil, ErrInvalidItem
		}
		switch billingCycle {
		case usermodel.BillingCycleMonthly:
			// 月付走定期定额委托
			amount = plan.MonthlyPrice
			channel = "newebpay_period"
			opts.PeriodTimes = defaultPeriodTimes
			opts.PeriodStartType = periodStartType
		case usermodel.BillingCycleAnnually:
			amount = plan.AnnuallyPrice
		default:
			return nil, nil, ErrInvalidBillingCycle
		}
		description = fmt.Sprintf("訂閱 %s (%s)", plan.Name, billingCycle)

	case model.ItemTypePackage:
		pkg, ok := catalog.GetPackage(itemID)
		if !ok {
			return nil, nil, ErrInvalidItem
		}
		// 点数包按会员等级套折扣
		amount = catalog.DiscountedPrice(pkg, user.Level)
		billingCycle = ""
		description = fmt.Sprintf("購買 %d 點數包", pkg.Credits)

	default:
		return nil, nil, ErrInvalidItem
	}

	gw, ok := s.strategies[channel]
	if !ok {
		return nil, nil, ErrUnsupportedChannel
	}

	order := &model.Order{
		OrderNo:      newOrderNo(),
		UserID:       userID,
		ItemID:       itemID,
		ItemType:     itemType,
		BillingCycle: billingCycle,
		Amount:       amount,
		Description:  description,
		Status:       model.StatusPendingPayment,
		Channel:      channel,
	}
	if opts.PeriodTimes > 0 {
		order.TotalInstallments = opts.PeriodTimes
	}

	if err := s.repo.CreateOrder(order); err != nil {
		return nil, nil, err
	}

	params, err := gw.Pay(order, &opts)
	if err != nil {
		return nil, nil, err
	}

	logger.Log.Info("下单成功",
		zap.String("order_no", order.OrderNo),
		zap.String("user_id", userID),
		zap.String("item", itemType+"/"+itemID),
		zap.Int64("amount", amount),
		zap.String("channel", channel))

	return order, params, nil
}

func (s *checkoutService) OrderByNo(orderNo string) (*model.Order, error) {
	return s.repo.GetOrderByNo(orderNo)
}

// newOrderNo LAWSOWL_ + uuid 前 16 位 hex
func newOrderNo() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "LAWSOWL_" + raw[:16]
}
