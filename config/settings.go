package config

import (
	"os"
	"strconv"
	"strings"
)

var (
	AppVersion        = "v1.4.0"
	AppPort           = "8080"
	AppDebug          = false
	AppBasePath       = ""
	AppTrustedProxies []string

	PathStorages  = "storages"
	PathMedia     = "statics/media"
	PathSendItems = "statics/senditems"

	// PublicBaseURL is the externally reachable base used to synthesize
	// media URLs for optimistic rendering.
	PublicBaseURL = "http://localhost:8080"

	// Relational store. Driver is "sqlite" or "postgres"; for sqlite the
	// name is a file path, for postgres it is the database name.
	DBDriver   = "sqlite"
	DBName     = "storages/gateway.db"
	DBHost     = "localhost"
	DBPort     = 5432
	DBUser     = "gateway"
	DBPassword = ""

	// Valkey cache and event bus. Empty address disables the tier.
	ValkeyAddress  = ""
	ValkeyPassword = ""
	ValkeyDB       = 0
	ValkeyPrefix   = "wagate"
	EnableWSPubSub = true

	// WhatsApp Cloud API.
	WhatsappAPIBase       = "https://graph.facebook.com"
	WhatsappAPIVersion    = "v19.0"
	WhatsappAccessToken   = ""
	WhatsappPhoneNumberID = ""
	WhatsappCatalogID     = ""
	WebhookVerifyToken    = ""
	WAMaxConcurrency      = 4

	// Per-agent token buckets.
	SendTextPerMin  = 30
	SendMediaPerMin = 5
	BurstWindowSec  = 60

	// Catalog auto-reply.
	AutoReplyCatalogMatch = false
	AutoReplyMinScore     = 0.6
	AutoReplyTestNumbers  []string

	// Shop backend used for customer/order/variant lookups.
	ShopAPIBase  = ""
	ShopAPIToken = ""

	LogVerbose = false
)

func init() {
	loadEnv()
}

// loadEnv applies environment overrides on top of defaults. Flags and viper
// bindings in cmd may override again afterwards.
func loadEnv() {
	if v := strings.TrimSpace(os.Getenv("APP_PORT")); v != "" {
		AppPort = v
	}
	if envBool(os.Getenv("APP_DEBUG")) {
		AppDebug = true
	}
	if v := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")); v != "" {
		PublicBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("DB_DRIVER")); v != "" {
		DBDriver = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_NAME")); v != "" {
		DBName = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_HOST")); v != "" {
		DBHost = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			DBPort = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DB_USER")); v != "" {
		DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		DBPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("VALKEY_ADDRESS")); v != "" {
		ValkeyAddress = v
	}
	if v := os.Getenv("VALKEY_PASSWORD"); v != "" {
		ValkeyPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("VALKEY_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ValkeyDB = n
		}
	}
	if v := os.Getenv("ENABLE_WS_PUBSUB"); v != "" {
		EnableWSPubSub = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("WA_API_BASE")); v != "" {
		WhatsappAPIBase = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("WA_API_VERSION")); v != "" {
		WhatsappAPIVersion = v
	}
	if v := strings.TrimSpace(os.Getenv("WA_ACCESS_TOKEN")); v != "" {
		WhatsappAccessToken = v
	}
	if v := strings.TrimSpace(os.Getenv("WA_PHONE_NUMBER_ID")); v != "" {
		WhatsappPhoneNumberID = v
	}
	if v := strings.TrimSpace(os.Getenv("WA_CATALOG_ID")); v != "" {
		WhatsappCatalogID = v
	}
	if v := strings.TrimSpace(os.Getenv("WA_VERIFY_TOKEN")); v != "" {
		WebhookVerifyToken = v
	}
	if v := strings.TrimSpace(os.Getenv("WA_MAX_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			WAMaxConcurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEND_TEXT_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			SendTextPerMin = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEND_MEDIA_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			SendMediaPerMin = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BURST_WINDOW_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			BurstWindowSec = n
		}
	}
	if v := os.Getenv("AUTO_REPLY_CATALOG_MATCH"); v != "" {
		AutoReplyCatalogMatch = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("AUTO_REPLY_MIN_SCORE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			AutoReplyMinScore = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("AUTO_REPLY_TEST_NUMBERS")); v != "" {
		for _, num := range strings.Split(v, ",") {
			if num = strings.TrimSpace(num); num != "" {
				AutoReplyTestNumbers = append(AutoReplyTestNumbers, num)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHOP_API_BASE")); v != "" {
		ShopAPIBase = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("SHOP_API_TOKEN")); v != "" {
		ShopAPIToken = v
	}
	if v := os.Getenv("LOG_VERBOSE"); v != "" {
		LogVerbose = envBool(v)
	}
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
