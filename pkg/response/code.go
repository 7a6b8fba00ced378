package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 用户模块错误 100xx
	ErrUserNotFound = 10002
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 积分模块错误 200xx
	ErrInsufficientCredits = 20001
	ErrInvalidCreditAmount = 20002

	// 订单/支付模块错误 300xx
	ErrOrderNotFound      = 30001
	ErrInvalidItem        = 30002
	ErrInvalidBillingCycle = 30003
	ErrUnsupportedChannel = 30004

	// 订阅模块错误 400xx
	ErrPlanNotFound        = 40001
	ErrInvalidDowngrade    = 40002
	ErrNoPendingDowngrade  = 40003
	ErrNoActiveSubscription = 40004

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
