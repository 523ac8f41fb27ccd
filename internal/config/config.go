package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	TerminalID            string
	StoreName             string
	ERPBaseURL            string
	ERPAPIKey             string
	ERPAPISecret          string
	UseMockERP            bool
	ERPTimeout            time.Duration
	PrintAgentURL         string
	PrinterAddr           string
	PrintLineFeeds        int
	PrintCut              bool
	DefaultEURRate        decimal.Decimal
	FXRateTTL             time.Duration
	DefaultVATRate        float64
	AuthSecret            string
	AccessTokenTTLMinutes int
	SeedAdminPassword     string
	Location              *time.Location
}

// Load reads the environment. A .env file in the working directory is applied first; variables
// already set in the environment win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] WARN: .env not loaded: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	eurRate, err := decimal.NewFromString(getEnv("DEFAULT_EUR_RATE", "1.17"))
	if err != nil || !eurRate.IsPositive() {
		log.Printf("[config] WARN: DEFAULT_EUR_RATE invalid, using 1.17")
		eurRate = decimal.RequireFromString("1.17")
	}
	vatRate, err := strconv.ParseFloat(getEnv("DEFAULT_VAT_RATE", "20"), 64)
	if err != nil || vatRate < 0 {
		vatRate = 20
	}
	useMock, _ := strconv.ParseBool(getEnv("USE_MOCK_ERP", "false"))
	printCut, err := strconv.ParseBool(getEnv("PRINT_CUT", "true"))
	if err != nil {
		printCut = true
	}
	lineFeeds, err := strconv.Atoi(getEnv("PRINT_LINE_FEEDS", "4"))
	if err != nil || lineFeeds < 0 {
		lineFeeds = 4
	}

	location := time.Local
	if tz := strings.TrimSpace(os.Getenv("STORE_TIMEZONE")); tz != "" {
		loaded, err := time.LoadLocation(tz)
		if err != nil {
			log.Printf("[config] WARN: STORE_TIMEZONE %q unknown, using local time: %v", tz, err)
		} else {
			location = loaded
		}
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		TerminalID:            strings.ToUpper(getEnv("TERMINAL_ID", "TILL-01")),
		StoreName:             getEnv("STORE_NAME", "Till Point"),
		ERPBaseURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("ERP_BASE_URL")), "/"),
		ERPAPIKey:             strings.TrimSpace(os.Getenv("ERP_API_KEY")),
		ERPAPISecret:          strings.TrimSpace(os.Getenv("ERP_API_SECRET")),
		UseMockERP:            useMock,
		ERPTimeout:            time.Duration(positiveInt("ERP_TIMEOUT_SECONDS", 15)) * time.Second,
		PrintAgentURL:         strings.TrimSpace(os.Getenv("PRINT_AGENT_URL")),
		PrinterAddr:           strings.TrimSpace(os.Getenv("PRINTER_ADDR")),
		PrintLineFeeds:        lineFeeds,
		PrintCut:              printCut,
		DefaultEURRate:        eurRate,
		FXRateTTL:             time.Duration(positiveInt("FX_RATE_TTL_MINUTES", 60)) * time.Minute,
		DefaultVATRate:        vatRate,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		SeedAdminPassword:     os.Getenv("SEED_ADMIN_PASSWORD"),
		Location:              location,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// MockERP reports whether the in-process ledger stands in for the ERP.
func (c Config) MockERP() bool {
	return c.UseMockERP || c.ERPBaseURL == ""
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
