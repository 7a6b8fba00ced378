package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	creditmodel "lawsowl_billing/internal/domain/credit/model"
	creditsvc "lawsowl_billing/internal/domain/credit/service"
	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/internal/domain/payment/repository"
	subsvc "lawsowl_billing/internal/domain/subscription/service"
	usermodel "lawsowl_billing/internal/domain/user/model"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// fakePaymentStore 内存存储, 实现 repository.ReconcileTx
// ops 按调用顺序记录每次读写, 用于校验写阶段不再回读
type fakePaymentStore struct {
	users     map[string]*usermodel.User
	orders    map[string]*model.Order
	periodics map[string]*model.PeriodicPayment
	txs       []creditmodel.CreditTransaction
	unmatched []model.UnmatchedNotification
	ops       []string
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{
		users:     make(map[string]*usermodel.User),
		orders:    make(map[string]*model.Order),
		periodics: make(map[string]*model.PeriodicPayment),
	}
}

func periodicKey(orderNo string, no int) string {
	return fmt.Sprintf("%s|%d", orderNo, no)
}

func (f *fakePaymentStore) UserByID(userID string) (*usermodel.User, error) {
	f.ops = append(f.ops, "read user")
	u, ok := f.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakePaymentStore) UpdateUser(userID string, fields map[string]interface{}) error {
	f.ops = append(f.ops, "write user")
	u, ok := f.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "level":
			u.Level = v.(string)
		case "billing_cycle":
			u.BillingCycle = v.(string)
		case "subscription_status":
			u.SubscriptionStatus = v.(string)
		case "subscription_start_date":
			t := v.(time.Time)
			u.SubscriptionStartDate = &t
		case "subscription_end_date":
			t := v.(time.Time)
			u.SubscriptionEndDate = &t
		case "subscription_order_no":
			u.SubscriptionOrderNo = v.(string)
		case "gateway_subscription_id":
			u.GatewaySubscriptionID = v.(string)
		case "last_subscription_failure_reason":
			u.LastSubscriptionFailureReason = v.(string)
		case "pending_downgrade_to_level":
			u.PendingDowngradeToLevel = v.(string)
		case "pending_downgrade_effective_date":
			if v == nil {
				u.PendingDowngradeEffectiveDate = nil
			} else {
				t := v.(time.Time)
				u.PendingDowngradeEffectiveDate = &t
			}
		}
	}
	return nil
}

func (f *fakePaymentStore) AddCredits(userID string, delta int64) error {
	f.ops = append(f.ops, "write user credits")
	u, ok := f.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Credits += delta
	return nil
}

func (f *fakePaymentStore) AppendTransaction(t *creditmodel.CreditTransaction) error {
	f.ops = append(f.ops, "write credit_tx")
	f.txs = append(f.txs, *t)
	return nil
}

func (f *fakePaymentStore) MarkSignupBonusGranted(userID string) error {
	f.ops = append(f.ops, "write user")
	if u, ok := f.users[userID]; ok {
		u.SignupBonusGranted = true
	}
	return nil
}

func (f *fakePaymentStore) OrderByNo(orderNo string) (*model.Order, error) {
	f.ops = append(f.ops, "read order")
	o, ok := f.orders[orderNo]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *o
	return &copied, nil
}

func (f *fakePaymentStore) OrderByPeriodNo(periodNo string) (*model.Order, error) {
	f.ops = append(f.ops, "read order")
	for _, o := range f.orders {
		if o.GatewayPeriodNo == periodNo {
			copied := *o
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentStore) PeriodicPayment(orderNo string, installmentNo int) (*model.PeriodicPayment, error) {
	f.ops = append(f.ops, "read periodic")
	p, ok := f.periodics[periodicKey(orderNo, installmentNo)]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *fakePaymentStore) UpdateOrder(orderNo string, fields map[string]interface{}) error {
	f.ops = append(f.ops, "write order")
	o, ok := f.orders[orderNo]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			o.Status = v.(string)
		case "gateway_trade_no":
			o.GatewayTradeNo = v.(string)
		case "gateway_period_no":
			o.GatewayPeriodNo = v.(string)
		case "failure_reason":
			o.FailureReason = v.(string)
		case "total_installments":
			o.TotalInstallments = v.(int)
		}
	}
	return nil
}

func (f *fakePaymentStore) CreatePeriodicPayment(p *model.PeriodicPayment) error {
	f.ops = append(f.ops, "write periodic")
	key := periodicKey(p.OrderNo, p.InstallmentNo)
	if _, exists := f.periodics[key]; exists {
		return fmt.Errorf("duplicate periodic payment %s", key)
	}
	copied := *p
	f.periodics[key] = &copied
	return nil
}

type fakePaymentRepo struct {
	store *fakePaymentStore
}

func (r *fakePaymentRepo) CreateOrder(order *model.Order) error {
	r.store.orders[order.OrderNo] = order
	return nil
}

func (r *fakePaymentRepo) GetOrderByNo(orderNo string) (*model.Order, error) {
	return r.store.OrderByNo(orderNo)
}

func (r *fakePaymentRepo) CreateUnmatchedNotification(n *model.UnmatchedNotification) error {
	r.store.unmatched = append(r.store.unmatched, *n)
	return nil
}

func (r *fakePaymentRepo) ListUnmatchedNotifications(offset, limit int) ([]model.UnmatchedNotification, int64, error) {
	return r.store.unmatched, int64(len(r.store.unmatched)), nil
}

func (r *fakePaymentRepo) Reconcile(ctx context.Context, fn func(tx repository.ReconcileTx) error) error {
	return fn(r.store)
}

func setupReconcile() (*fakePaymentStore, ReconcileService) {
	store := newFakePaymentStore()
	credits := creditsvc.NewCreditService(nil, nil, 0)
	lifecycle := subsvc.NewLifecycleService(nil, credits)
	svc := NewReconcileService(&fakePaymentRepo{store: store}, lifecycle, credits, nil, nil, nil, false)
	return store, svc
}

func seedUser(store *fakePaymentStore, id string) *usermodel.User {
	u := &usermodel.User{Level: usermodel.LevelFree}
	u.ID = id
	store.users[id] = u
	return u
}

func seedOrder(store *fakePaymentStore, orderNo, userID, itemType, itemID, cycle, status string) *model.Order {
	o := &model.Order{
		OrderNo:      orderNo,
		UserID:       userID,
		ItemType:     itemType,
		ItemID:       itemID,
		BillingCycle: cycle,
		Status:       status,
		Channel:      "newebpay",
	}
	store.orders[orderNo] = o
	return o
}

func oneTimeSuccess(orderNo string) *model.PaymentEvent {
	return &model.PaymentEvent{
		Kind:           model.EventOneTimeResult,
		Channel:        "newebpay",
		OrderNo:        orderNo,
		Success:        true,
		RespondCode:    "SUCCESS",
		GatewayTradeNo: "T100",
		Raw:            "raw-" + orderNo,
	}
}

func TestReconcileOneTime(t *testing.T) {
	ctx := context.Background()

	t.Run("Package purchase grants credits exactly once", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePackage, "100", "", model.StatusPendingPayment)

		outcome, err := svc.Reconcile(ctx, oneTimeSuccess("o1"))

		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusPaid, store.orders["o1"].Status)
		assert.Equal(t, "T100", store.orders["o1"].GatewayTradeNo)
		assert.Equal(t, int64(100), store.users["u1"].Credits)
		assert.Len(t, store.txs, 1)
		assert.Equal(t, "purchase_credit_package_100", store.txs[0].Purpose)

		// 同一事件重发 N 次, 结果与一次相同
		for i := 0; i < 3; i++ {
			outcome, err = svc.Reconcile(ctx, oneTimeSuccess("o1"))
			assert.NoError(t, err)
			assert.Equal(t, OutcomeAlreadyProcessed, outcome)
		}
		assert.Equal(t, int64(100), store.users["u1"].Credits)
		assert.Len(t, store.txs, 1)
	})

	t.Run("Annual plan payment activates subscription", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePlan, usermodel.LevelAdvanced, usermodel.BillingCycleAnnually, model.StatusPendingPayment)

		outcome, err := svc.Reconcile(ctx, oneTimeSuccess("o1"))

		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusPaid, store.orders["o1"].Status)
		assert.Equal(t, usermodel.LevelAdvanced, store.users["u1"].Level)
		assert.Equal(t, usermodel.SubStatusActive, store.users["u1"].SubscriptionStatus)
		// 年赠点 30000 + free→advanced 升级奖励 1000
		assert.Equal(t, int64(31000), store.users["u1"].Credits)
	})

	t.Run("Failure marks order FAILED and later success is a retransmission", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePackage, "50", "", model.StatusPendingPayment)

		fail := oneTimeSuccess("o1")
		fail.Success = false
		fail.RespondCode = "TRA10003"
		fail.Message = "卡號錯誤"

		outcome, err := svc.Reconcile(ctx, fail)
		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusFailed, store.orders["o1"].Status)
		assert.Contains(t, store.orders["o1"].FailureReason, "TRA10003")
		assert.Zero(t, store.users["u1"].Credits)

		// FAILED 是终态, 迟到的成功只能当重发
		outcome, err = svc.Reconcile(ctx, oneTimeSuccess("o1"))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, outcome)
		assert.Equal(t, model.StatusFailed, store.orders["o1"].Status)
	})

	t.Run("Unknown order is reported, not fatal", func(t *testing.T) {
		_, svc := setupReconcile()
		outcome, err := svc.Reconcile(ctx, oneTimeSuccess("missing"))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeOrderNotFound, outcome)
	})

	t.Run("Unknown package id is a loud configuration error", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePackage, "9999", "", model.StatusPendingPayment)

		_, err := svc.Reconcile(ctx, oneTimeSuccess("o1"))
		assert.Error(t, err)
	})
}

func agreementCreated(orderNo, periodNo string, total int) *model.PaymentEvent {
	return &model.PaymentEvent{
		Kind:              model.EventAgreementCreated,
		Channel:           "newebpay",
		OrderNo:           orderNo,
		GatewayPeriodNo:   periodNo,
		Success:           true,
		RespondCode:       "00",
		AuthCode:          "A001",
		AuthDate:          "2026-05-10",
		GatewayTradeNo:    "T200",
		TotalInstallments: total,
		InstallmentNo:     1,
		Raw:               "raw-agree-" + orderNo,
	}
}

func installment(orderNo, periodNo string, no int) *model.PaymentEvent {
	return &model.PaymentEvent{
		Kind:            model.EventInstallmentResult,
		Channel:         "newebpay",
		GatewayPeriodNo: periodNo,
		OrderNo:         orderNo,
		Success:         true,
		RespondCode:     "00",
		AuthCode:        fmt.Sprintf("A%03d", no),
		AuthDate:        "2026-06-10",
		GatewayTradeNo:  fmt.Sprintf("T%03d", no),
		InstallmentNo:   no,
		Raw:             fmt.Sprintf("raw-inst-%s-%d", orderNo, no),
	}
}

func TestReconcileAgreement(t *testing.T) {
	ctx := context.Background()

	t.Run("Agreement creation activates monthly subscription", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePlan, usermodel.LevelBasic, usermodel.BillingCycleMonthly, model.StatusPendingPayment)

		outcome, err := svc.Reconcile(ctx, agreementCreated("o1", "P555", 12))

		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusAgreementCreated, store.orders["o1"].Status)
		assert.Equal(t, "P555", store.orders["o1"].GatewayPeriodNo)
		assert.Equal(t, 12, store.orders["o1"].TotalInstallments)
		assert.Equal(t, "P555", store.users["u1"].GatewaySubscriptionID)
		assert.Equal(t, usermodel.LevelBasic, store.users["u1"].Level)
		// 月赠点 250 + free→basic 升级奖励 100
		assert.Equal(t, int64(350), store.users["u1"].Credits)
		// 首期已入记录, 网关补发第 1 期续扣回调会被挡掉
		assert.NotNil(t, store.periodics[periodicKey("o1", 1)])

		outcome, err = svc.Reconcile(ctx, agreementCreated("o1", "P555", 12))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, outcome)
		assert.Equal(t, int64(350), store.users["u1"].Credits)
	})

	t.Run("Agreement failure on pending order", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePlan, usermodel.LevelBasic, usermodel.BillingCycleMonthly, model.StatusPendingPayment)

		ev := agreementCreated("o1", "P555", 12)
		ev.Success = false
		ev.RespondCode = "PER10001"
		ev.Message = "授權失敗"

		outcome, err := svc.Reconcile(ctx, ev)

		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusAgreementFailed, store.orders["o1"].Status)
		assert.Equal(t, usermodel.SubStatusPaymentFailed, store.users["u1"].SubscriptionStatus)
		assert.Zero(t, store.users["u1"].Credits)
	})
}

func TestReconcileInstallments(t *testing.T) {
	ctx := context.Background()

	setupAgreement := func(total int) (*fakePaymentStore, ReconcileService) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePlan, usermodel.LevelBasic, usermodel.BillingCycleMonthly, model.StatusPendingPayment)
		_, err := svc.Reconcile(ctx, agreementCreated("o1", "P555", total))
		if err != nil {
			panic(err)
		}
		return store, svc
	}

	t.Run("Each installment grants once, final one completes the order", func(t *testing.T) {
		store, svc := setupAgreement(3)
		activationCredits := store.users["u1"].Credits

		// 第 2 期
		outcome, err := svc.Reconcile(ctx, installment("", "P555", 2))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusAgreementCreated, store.orders["o1"].Status)
		assert.Equal(t, activationCredits+250, store.users["u1"].Credits)

		// 第 2 期重发
		outcome, err = svc.Reconcile(ctx, installment("", "P555", 2))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, outcome)
		assert.Equal(t, activationCredits+250, store.users["u1"].Credits)

		// 第 3 期 = 最后一期
		outcome, err = svc.Reconcile(ctx, installment("", "P555", 3))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusCompletedPeriods, store.orders["o1"].Status)
		assert.Equal(t, usermodel.LevelFree, store.users["u1"].Level)
		assert.Equal(t, usermodel.SubStatusCompleted, store.users["u1"].SubscriptionStatus)
		assert.Empty(t, store.users["u1"].GatewaySubscriptionID)
		assert.Equal(t, activationCredits+500, store.users["u1"].Credits)
	})

	t.Run("Installment failure then grace period recovery", func(t *testing.T) {
		store, svc := setupAgreement(12)
		baseline := store.users["u1"].Credits

		fail := installment("", "P555", 2)
		fail.Success = false
		fail.RespondCode = "PER10005"
		fail.Message = "扣款失敗"

		outcome, err := svc.Reconcile(ctx, fail)
		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusPeriodicPaymentFailed, store.orders["o1"].Status)
		assert.Equal(t, usermodel.SubStatusPaymentFailed, store.users["u1"].SubscriptionStatus)
		assert.Contains(t, store.users["u1"].LastSubscriptionFailureReason, "PER10005")

		// 下一期成功: 故意不看订单状态, 照常入账并回到正常轨道
		outcome, err = svc.Reconcile(ctx, installment("", "P555", 3))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, model.StatusAgreementCreated, store.orders["o1"].Status)
		assert.Equal(t, usermodel.SubStatusActive, store.users["u1"].SubscriptionStatus)
		assert.Equal(t, baseline+250, store.users["u1"].Credits)
		assert.Empty(t, store.users["u1"].LastSubscriptionFailureReason)
	})

	t.Run("Installment resolved by gateway period number only", func(t *testing.T) {
		store, svc := setupAgreement(12)

		ev := installment("", "P555", 2)
		ev.OrderNo = "" // 回调只带委托单号

		outcome, err := svc.Reconcile(ctx, ev)
		assert.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.NotNil(t, store.periodics[periodicKey("o1", 2)])
	})
}

func TestReconcileMonotonicStateMachine(t *testing.T) {
	// 任意事件序列下, 订单状态只沿定义的边移动
	ctx := context.Background()
	store, svc := setupReconcile()
	seedUser(store, "u1")
	seedOrder(store, "o1", "u1", model.ItemTypePackage, "100", "", model.StatusPendingPayment)

	events := []*model.PaymentEvent{
		oneTimeSuccess("o1"),
		oneTimeSuccess("o1"),
		{Kind: model.EventOneTimeResult, OrderNo: "o1", Success: false, RespondCode: "X"},
		oneTimeSuccess("o1"),
	}

	prev := store.orders["o1"].Status
	for _, ev := range events {
		_, err := svc.Reconcile(ctx, ev)
		assert.NoError(t, err)
		cur := store.orders["o1"].Status
		if cur != prev {
			assert.True(t, model.CanTransition(prev, cur), "illegal transition %s -> %s", prev, cur)
		}
		prev = cur
	}
	assert.Equal(t, model.StatusPaid, store.orders["o1"].Status)
	assert.Len(t, store.txs, 1)
}

// 对账事务的纪律: 所有要写的行在读阶段一次读完, 写阶段只发写语句
func assertReadsBeforeWrites(t *testing.T, ops []string) {
	t.Helper()
	firstWrite := -1
	for i, op := range ops {
		if strings.HasPrefix(op, "write") {
			if firstWrite < 0 {
				firstWrite = i
			}
			continue
		}
		if firstWrite >= 0 {
			t.Fatalf("%q at position %d follows first write at %d: %v", op, i, firstWrite, ops)
		}
	}
	assert.GreaterOrEqual(t, firstWrite, 0, "expected at least one write: %v", ops)
}

func TestReconcileReadsBeforeWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("One-time package purchase", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePackage, "500", "", model.StatusPendingPayment)

		_, err := svc.Reconcile(ctx, oneTimeSuccess("o1"))
		assert.NoError(t, err)
		assertReadsBeforeWrites(t, store.ops)
	})

	t.Run("Agreement creation with first installment", func(t *testing.T) {
		store, svc := setupReconcile()
		seedUser(store, "u1")
		seedOrder(store, "o1", "u1", model.ItemTypePlan, usermodel.LevelAdvanced, usermodel.BillingCycleMonthly, model.StatusPendingPayment)

		_, err := svc.Reconcile(ctx, agreementCreated("o1", "P1", 12))
		assert.NoError(t, err)
		assertReadsBeforeWrites(t, store.ops)

		// 开通含周期赠点 + 升级奖励两笔入账, 余额从同一份快照连续推进
		assert.Len(t, store.txs, 2)
		assert.Equal(t, store.txs[0].BalanceAfter, store.txs[1].BalanceBefore)
		assert.Equal(t, store.txs[1].BalanceAfter, store.users["u1"].Credits)
	})

	t.Run("Recurring installment", func(t *testing.T) {
		store, svc := setupReconcile()
		u := seedUser(store, "u1")
		u.Level = usermodel.LevelAdvanced
		o := seedOrder(store, "o1", "u1", model.ItemTypePlan, usermodel.LevelAdvanced, usermodel.BillingCycleMonthly, model.StatusAgreementCreated)
		o.GatewayPeriodNo = "P1"
		o.TotalInstallments = 12

		_, err := svc.Reconcile(ctx, installment("o1", "P1", 2))
		assert.NoError(t, err)
		assertReadsBeforeWrites(t, store.ops)
	})
}
