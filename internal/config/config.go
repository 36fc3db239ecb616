package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"barpos/backend/internal/domain"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminPIN              string
	LogLevel              string
	LogFormat             string
	LowStockThreshold     int
	PaymentTimeoutSeconds int
	ReportCacheSeconds    int
	Business              domain.Settings
	Mpesa                 MpesaConfig
}

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	CallbackToken  string
}

// Enabled reports whether enough credentials are present to talk to Daraja.
func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.Passkey != ""
}

// businessProfile is the YAML shape of BUSINESS_PROFILE.
type businessProfile struct {
	BusinessName     string             `yaml:"businessName"`
	BusinessType     string             `yaml:"businessType"`
	Currency         string             `yaml:"currency"`
	TaxRate          *float64           `yaml:"taxRate"`
	CategoryTaxRates map[string]float64 `yaml:"categoryTaxRates"`
}

func Load() (Config, error) {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	policy := domain.StockPolicy(strings.ToLower(getEnv("STOCK_POLICY", string(domain.StockPolicyAllow))))
	if policy != domain.StockPolicyAllow && policy != domain.StockPolicyReject {
		return Config{}, fmt.Errorf("STOCK_POLICY must be %q or %q, got %q", domain.StockPolicyAllow, domain.StockPolicyReject, policy)
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		AdminPIN:              strings.TrimSpace(os.Getenv("ADMIN_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		LowStockThreshold:     getPositiveInt("LOW_STOCK_THRESHOLD", 5),
		PaymentTimeoutSeconds: getPositiveInt("PAYMENT_CONFIRM_TIMEOUT_SECONDS", 120),
		ReportCacheSeconds:    getPositiveInt("REPORT_CACHE_SECONDS", 30),
		Business:              DefaultSettings(),
		Mpesa: MpesaConfig{
			BaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:      getEnv("MPESA_SHORTCODE", "174379"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
			CallbackToken:  strings.TrimSpace(os.Getenv("MPESA_CALLBACK_TOKEN")),
		},
	}
	cfg.Business.StockPolicy = policy

	if path := strings.TrimSpace(os.Getenv("BUSINESS_PROFILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read business profile: %w", err)
		}
		if err := applyProfile(&cfg.Business, raw); err != nil {
			return Config{}, fmt.Errorf("business profile %s: %w", path, err)
		}
	}

	return cfg, nil
}

func DefaultSettings() domain.Settings {
	return domain.Settings{
		BusinessName: "Kenya Liquor Master",
		BusinessType: domain.BusinessBarRestaurant,
		Currency:     "KES",
		TaxRate:      decimal.NewFromInt(16),
		StockPolicy:  domain.StockPolicyAllow,
	}
}

func applyProfile(settings *domain.Settings, raw []byte) error {
	var profile businessProfile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return err
	}

	if profile.BusinessName != "" {
		settings.BusinessName = profile.BusinessName
	}
	if profile.BusinessType != "" {
		bt := domain.BusinessType(strings.ToUpper(profile.BusinessType))
		switch bt {
		case domain.BusinessLiquorStore, domain.BusinessBarRestaurant, domain.BusinessWholesale:
			settings.BusinessType = bt
		default:
			return fmt.Errorf("unknown businessType %q", profile.BusinessType)
		}
	}
	if profile.Currency != "" {
		settings.Currency = strings.ToUpper(profile.Currency)
	}
	if profile.TaxRate != nil {
		if *profile.TaxRate < 0 || *profile.TaxRate > 100 {
			return fmt.Errorf("taxRate %v out of range", *profile.TaxRate)
		}
		settings.TaxRate = decimal.NewFromFloat(*profile.TaxRate)
	}
	if len(profile.CategoryTaxRates) > 0 {
		settings.CategoryTaxRates = make(map[string]decimal.Decimal, len(profile.CategoryTaxRates))
		for category, rate := range profile.CategoryTaxRates {
			if rate < 0 || rate > 100 {
				return fmt.Errorf("categoryTaxRates[%s] %v out of range", category, rate)
			}
			settings.CategoryTaxRates[category] = decimal.NewFromFloat(rate)
		}
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
