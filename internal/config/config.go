package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

type Config struct {
	Port     string
	LogLevel string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	Gateway GatewayConfig
	Payment PaymentConfig
}

type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	SiteID       string
	Timeout      time.Duration
	WebhookToken string
}

type PaymentConfig struct {
	PublicBaseURL   string
	ReturnURL       string
	CancelURL       string
	DefaultCurrency string
	AmountUnit      int64
	AmountMinimum   int64
	Methods         map[string]models.PaymentMethod
}

// NotifyURL is the webhook the gateway calls back.
func (c PaymentConfig) NotifyURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/api/payment/webhook"
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env: %s", err)
	}

	cfg := Config{
		Port:          getenv("PORT", "8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		MongoURI:      os.Getenv("MONGOURI"),
		MongoDB:       getenv("MONGO_DB", "propertydb"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		Gateway: GatewayConfig{
			BaseURL:      getenv("CINETPAY_BASE_URL", "https://api-checkout.cinetpay.com"),
			APIKey:       os.Getenv("CINETPAY_API_KEY"),
			SiteID:       os.Getenv("CINETPAY_SITE_ID"),
			WebhookToken: os.Getenv("CINETPAY_WEBHOOK_TOKEN"),
		},
		Payment: PaymentConfig{
			PublicBaseURL:   os.Getenv("PUBLIC_BASE_URL"),
			ReturnURL:       os.Getenv("PAYMENT_RETURN_URL"),
			CancelURL:       os.Getenv("PAYMENT_CANCEL_URL"),
			DefaultCurrency: strings.ToUpper(getenv("DEFAULT_CURRENCY", "XOF")),
		},
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.Gateway.Timeout, err = getDuration("GATEWAY_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	unit, err := getInt("AMOUNT_UNIT", 5)
	if err != nil {
		return Config{}, err
	}
	minimum, err := getInt("AMOUNT_MINIMUM", unit)
	if err != nil {
		return Config{}, err
	}
	cfg.Payment.AmountUnit = int64(unit)
	cfg.Payment.AmountMinimum = int64(minimum)

	cfg.Payment.Methods = DefaultPaymentMethods()
	if path := os.Getenv("PAYMENT_METHODS_FILE"); path != "" {
		methods, err := LoadPaymentMethods(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Payment.Methods = methods
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGOURI environment variable not set"))
	}
	if c.Gateway.APIKey == "" || c.Gateway.SiteID == "" {
		errs = append(errs, errors.New("CINETPAY_API_KEY and CINETPAY_SITE_ID must be set"))
	}
	if c.Payment.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL environment variable not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable not set"))
	}
	if c.Payment.AmountUnit <= 0 {
		errs = append(errs, fmt.Errorf("AMOUNT_UNIT must be positive, got %d", c.Payment.AmountUnit))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

type paymentMethodsFile struct {
	Methods []models.PaymentMethod `yaml:"payment_methods"`
}

// LoadPaymentMethods reads a YAML table of payment methods keyed by code.
func LoadPaymentMethods(path string) (map[string]models.PaymentMethod, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payment methods file: %w", err)
	}
	return ParsePaymentMethods(raw)
}

func ParsePaymentMethods(raw []byte) (map[string]models.PaymentMethod, error) {
	var file paymentMethodsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse payment methods: %w", err)
	}
	if len(file.Methods) == 0 {
		return nil, errors.New("payment methods file has no payment_methods entries")
	}

	out := make(map[string]models.PaymentMethod, len(file.Methods))
	for i, m := range file.Methods {
		m.Code = strings.ToUpper(strings.TrimSpace(m.Code))
		m.Channel = strings.ToUpper(strings.TrimSpace(m.Channel))
		m.Currency = strings.ToUpper(strings.TrimSpace(m.Currency))
		if m.Code == "" || m.Channel == "" {
			return nil, fmt.Errorf("payment method #%d: code and channel are required", i+1)
		}
		out[m.Code] = m
	}
	return out, nil
}

// DefaultPaymentMethods covers the operators the marketplace launched with.
func DefaultPaymentMethods() map[string]models.PaymentMethod {
	methods := []models.PaymentMethod{
		{Code: "ALL", Channel: "ALL"},
		{Code: "CARD", Channel: "CREDIT_CARD"},
		{Code: "ORANGE_MONEY_CI", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "CI"},
		{Code: "MTN_MONEY_CI", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "CI"},
		{Code: "MOOV_MONEY_CI", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "CI"},
		{Code: "WAVE_CI", Channel: "WALLET", Currency: "XOF", Country: "CI"},
		{Code: "ORANGE_MONEY_SN", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "SN"},
		{Code: "FREE_MONEY_SN", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "SN"},
		{Code: "ORANGE_MONEY_ML", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "ML"},
		{Code: "ORANGE_MONEY_BF", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "BF"},
		{Code: "MTN_MONEY_BJ", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "BJ"},
		{Code: "TMONEY_TG", Channel: "MOBILE_MONEY", Currency: "XOF", Country: "TG"},
		{Code: "ORANGE_MONEY_CM", Channel: "MOBILE_MONEY", Currency: "XAF", Country: "CM"},
		{Code: "MTN_MONEY_CM", Channel: "MOBILE_MONEY", Currency: "XAF", Country: "CM"},
		{Code: "ORANGE_MONEY_CD", Channel: "MOBILE_MONEY", Currency: "CDF", Country: "CD"},
		{Code: "MPESA_CD", Channel: "MOBILE_MONEY", Currency: "CDF", Country: "CD"},
		{Code: "ORANGE_MONEY_GN", Channel: "MOBILE_MONEY", Currency: "GNF", Country: "GN"},
	}
	out := make(map[string]models.PaymentMethod, len(methods))
	for _, m := range methods {
		out[m.Code] = m
	}
	return out
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}
