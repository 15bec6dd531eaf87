package config

import (
	"os"
	"strconv"
)

type Config struct {
	AppPort       string
	DBDSN         string
	JWTSecret     string
	JWTExpiresMin int

	// Commission rates. Percentages are whole numbers; shares are floored.
	PlatformCommissionPct int
	NetworkBonusPct       int
	SuccessFeeAmount      int64

	// Payment aggregator (KBZPay / WavePay / AYAPay behind one switch API).
	PaymentBaseURL      string
	PaymentAPIKey       string
	PaymentMerchantCode string
	PaymentSecretKey    string

	// Reconciliation worker.
	ReconcileIntervalMin int
	StaleAfterMin        int
	ReconcileDelayMs     int

	StatusTokenKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GoogleClientID  string
	GoogleSecret    string
	GoogleRedirect  string
	FrontendBaseURL string
}

func Load() Config {
	expires, _ := strconv.Atoi(get("JWT_EXPIRES_MIN", "10080"))
	platformPct, _ := strconv.Atoi(get("PLATFORM_COMMISSION_PCT", "15"))
	networkPct, _ := strconv.Atoi(get("NETWORK_BONUS_PCT", "5"))
	successFee, _ := strconv.ParseInt(get("SUCCESS_FEE_MMK", "30000"), 10, 64)
	reconInterval, _ := strconv.Atoi(get("RECONCILE_INTERVAL_MIN", "5"))
	staleAfter, _ := strconv.Atoi(get("RECONCILE_STALE_AFTER_MIN", "5"))
	reconDelay, _ := strconv.Atoi(get("RECONCILE_DELAY_MS", "500"))
	redisDB, _ := strconv.Atoi(get("REDIS_DB", "0"))

	return Config{
		AppPort:       get("APP_PORT", "8080"),
		DBDSN:         must("DB_DSN"),
		JWTSecret:     must("JWT_SECRET"),
		JWTExpiresMin: expires,

		PlatformCommissionPct: platformPct,
		NetworkBonusPct:       networkPct,
		SuccessFeeAmount:      successFee,

		PaymentBaseURL:      get("PAYMENT_BASE_URL", "https://sandbox.mmpay.example/api/v1"),
		PaymentAPIKey:       get("PAYMENT_API_KEY", ""),
		PaymentMerchantCode: get("PAYMENT_MERCHANT_CODE", ""),
		PaymentSecretKey:    get("PAYMENT_SECRET_KEY", ""),

		ReconcileIntervalMin: reconInterval,
		StaleAfterMin:        staleAfter,
		ReconcileDelayMs:     reconDelay,

		StatusTokenKey: get("STATUS_TOKEN_KEY", ""),

		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		GoogleClientID:  get("GOOGLE_CLIENT_ID", ""),
		GoogleSecret:    get("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirect:  get("GOOGLE_REDIRECT_URL", ""),
		FrontendBaseURL: get("FRONTEND_BASE_URL", "http://localhost:3000"),
	}
}

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}
