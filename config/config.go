package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string

	// Database: "postgres" or "sqlite"
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Instrument catalog
	TickersFile string

	// Market data screener
	ScreenerURL      string
	FetchBatchSize   int
	FetchConcurrency int
	FetchTimeoutSec  int

	// Scheduling
	Timezone string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "rsi_alerts"),
		SQLitePath:       getEnv("SQLITE_PATH", "runtime/rsi_alerts.db"),
		TickersFile:      getEnv("TICKERS_FILE", "data/tickers.csv"),
		ScreenerURL:      getEnv("SCREENER_URL", "https://scanner.tradingview.com/global/scan"),
		FetchBatchSize:   getEnvInt("FETCH_BATCH_SIZE", 100),
		FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", 4),
		FetchTimeoutSec:  getEnvInt("FETCH_TIMEOUT_SECONDS", 30),
		Timezone:         getEnv("TIMEZONE", "Europe/Oslo"),
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes the database connection based on DB_DRIVER
func InitDB() (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var db *gorm.DB
	var err error

	switch AppConfig.DBDriver {
	case "postgres":
		log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
			maskHost(AppConfig.DBHost), AppConfig.DBPort, AppConfig.DBUser, AppConfig.DBName)

		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=prefer TimeZone=%s",
			AppConfig.DBHost, AppConfig.DBUser, AppConfig.DBPassword,
			AppConfig.DBName, AppConfig.DBPort, AppConfig.Timezone,
		)
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		log.Printf("Opening SQLite database at %s", AppConfig.SQLitePath)
		db, err = gorm.Open(sqlite.Open(AppConfig.SQLitePath+"?_journal_mode=WAL&_busy_timeout=5000"), gormConfig)
	}

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// Location resolves the configured scheduling timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Invalid TIMEZONE %q, falling back to UTC: %v", c.Timezone, err)
		return time.UTC
	}
	return loc
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
