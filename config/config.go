package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pipelinecrm/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// MailProviderConfig holds the settings for the provider send API
// (connection credentials live per-org in the mail_connections table).
type MailProviderConfig struct {
	BaseURL      string `json:"base_url"`
	SecretKey    string `json:"-"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
}

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

type LeadFinderConfig struct {
	SearchAPIURL string `json:"search_api_url"`
	SearchAPIKey string `json:"-"`
	ModelAPIURL  string `json:"model_api_url"`
	ModelAPIKey  string `json:"-"`
	Model        string `json:"model"`
}

type Config struct {
	Environment     string             `json:"environment"`
	ServerPort      string             `json:"server_port"`
	EncryptionKey   string             `json:"-"`
	SentryDSN       string             `json:"-"`
	DBHost          string             `json:"db_host"`
	DBPort          string             `json:"db_port"`
	DBUser          string             `json:"db_user"`
	DBPassword      string             `json:"-"`
	DBName          string             `json:"db_name"`
	DBSSLMode       string             `json:"db_ssl_mode"`
	DBMaxIdleConns  int                `json:"db_max_idle_conns"`
	DBMaxOpenConns  int                `json:"db_max_open_conns"`
	RateLimitAssign int                `json:"rate_limit_assign"`
	Redis           RedisConfig        `json:"redis"`
	MailProvider    MailProviderConfig `json:"mail_provider"`
	SMTP            SMTPConfig         `json:"smtp"`
	LeadFinder      LeadFinderConfig   `json:"lead_finder"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "pipelinecrm"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		RateLimitAssign: getEnvAsInt("RATE_LIMIT_ASSIGN", 30),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		MailProvider: MailProviderConfig{
			BaseURL:      getEnv("MAIL_PROVIDER_BASE_URL", "https://gmail.googleapis.com"),
			SecretKey:    getEnv("MAIL_PROVIDER_SECRET_KEY", ""),
			ClientID:     getEnv("MAIL_PROVIDER_CLIENT_ID", ""),
			ClientSecret: getEnv("MAIL_PROVIDER_CLIENT_SECRET", ""),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("SMTP_FROM_EMAIL", ""),
			FromName:  getEnv("SMTP_FROM_NAME", ""),
		},
		LeadFinder: LeadFinderConfig{
			SearchAPIURL: getEnv("SEARCH_API_URL", "https://api.search.brave.com/res/v1/web/search"),
			SearchAPIKey: getEnv("SEARCH_API_KEY", ""),
			ModelAPIURL:  getEnv("MODEL_API_URL", "https://api.openai.com/v1/chat/completions"),
			ModelAPIKey:  getEnv("MODEL_API_KEY", ""),
			Model:        getEnv("MODEL_NAME", "gpt-4o-mini"),
		},
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(AppConfig.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes for AES-256")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	// TranslateError maps driver duplicate-key errors to
	// gorm.ErrDuplicatedKey, which the idempotent assign path relies on.
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// MigrateDB runs AutoMigrate for every model. Exported so tests can
// migrate an in-memory database with the same table set.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.RefreshToken{},
		&models.Company{},
		&models.Contact{},
		&models.Deal{},
		&models.MailConnection{},
		&models.Sequence{},
		&models.SequenceAssignment{},
		&models.SequenceSendLog{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Mail provider: %s (configured: %t), SMTP fallback: %t",
		AppConfig.MailProvider.BaseURL,
		AppConfig.MailProvider.SecretKey != "",
		AppConfig.SMTP.Host != "")
}
