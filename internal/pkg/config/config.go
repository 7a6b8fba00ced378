package config

import (
	"errors"
	"log"
	"os"

	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	App      AppConfig      `mapstructure:"app"`
	Newebpay NewebpayConfig `mapstructure:"newebpay"`
	Alipay   AlipayConfig   `mapstructure:"alipay"`
	Wechat   WechatPayConfig `mapstructure:"wechat"`
	Payment  PaymentConfig  `mapstructure:"payment"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	BaseURL string `mapstructure:"base_url"` // 前端地址, 用于支付结果跳转
}

// NewebpayConfig 蓝新金流配置
// MPG 为一次性支付, Period 为信用卡定期定额委托
type NewebpayConfig struct {
	MerchantID     string `mapstructure:"merchant_id"`
	HashKey        string `mapstructure:"hash_key"`
	HashIV         string `mapstructure:"hash_iv"`
	MpgURL         string `mapstructure:"mpg_url"`
	PeriodURL      string `mapstructure:"period_url"`
	NotifyBaseURL  string `mapstructure:"notify_base_url"` // 后端对外地址, 组装 NotifyURL
}

type AlipayConfig struct {
	AppID        string `mapstructure:"app_id"`
	PrivateKey   string `mapstructure:"private_key"`   // 应用私钥
	PublicKey    string `mapstructure:"public_key"`    // 支付宝公钥 (不是应用公钥)
	NotifyURL    string `mapstructure:"notify_url"`    // 异步通知地址
	ReturnURL    string `mapstructure:"return_url"`    // 同步跳转地址
	IsProduction bool   `mapstructure:"is_production"` // 是否生产环境
}

type WechatPayConfig struct {
	AppID                string `mapstructure:"app_id"`
	MchID                string `mapstructure:"mch_id"`
	MchCertificateSerial string `mapstructure:"mch_cert_serial"`
	MchPrivateKey        string `mapstructure:"mch_private_key"`
	APIv3Key             string `mapstructure:"apiv3_key"`
	NotifyURL            string `mapstructure:"notify_url"`
}

// PaymentConfig 对账行为配置
type PaymentConfig struct {
	// StrictUnmatched 为 true 时, 无法关联订单的回调返回非 2xx 让网关重发;
	// 默认 false: 记录异常并确认收到, 避免无解的重发风暴
	StrictUnmatched bool `mapstructure:"strict_unmatched"`
	// SignupBonus 新用户注册赠点, 0 表示关闭
	SignupBonus int64 `mapstructure:"signup_bonus"`
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	// 蓝新 HashKey 32 字节 / HashIV 16 字节, 长度错误会导致所有回调验签失败
	if c.Newebpay.MerchantID != "" {
		if len(c.Newebpay.HashKey) != 32 {
			return errors.New("newebpay hash_key must be 32 bytes")
		}
		if len(c.Newebpay.HashIV) != 16 {
			return errors.New("newebpay hash_iv must be 16 bytes")
		}
	}

	return nil
}

// LoadConfig 加载配置
func LoadConfig() {
	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	configName := "config"
	if env != "" && env != "dev" {
		configName = "config." + env
	}

	viper.SetConfigName(configName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Failed to unmarshal config: %v", err)
	}

	if env == "prod" {
		if err := GlobalConfig.Validate(); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
	}
}
