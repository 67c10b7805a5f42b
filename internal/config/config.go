package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"orchestrator/internal/approval"
	"orchestrator/internal/conn"
	"orchestrator/internal/risk"
	"orchestrator/internal/trader"
	"orchestrator/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Broker   BrokerConfig
	Risk     RiskConfig
	Approval ApprovalConfig
	Trader   TraderConfig
	Notify   NotifyConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// APIKeyHash - bcrypt-хеш ключа оператора (пусто = auth выключен)
	APIKeyHash string

	// EncryptionKey - 32-байтовый ключ AES-256 для учётных данных брокера.
	// Если задан, BROKER_PASSWORD трактуется как зашифрованный ciphertext
	// (пусто = пароль в окружении хранится открытым текстом)
	EncryptionKey string
}

// BrokerConfig - настройки сессии с брокером
type BrokerConfig struct {
	Login    string
	Password string
	Server   string

	// Backoff рукопожатия
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Health-check активной сессии
	ProbeInterval time.Duration
	ProbeStrikes  int

	// Очередь отложенных операций при потере сессии
	QueueCapacity int

	// Таймаут одного вызова брокера
	CallTimeout time.Duration

	// Rate limiter вызовов брокера
	RateLimit float64 // токенов в секунду
	RateBurst float64 // ёмкость ведра
	OrderCost float64 // стоимость отправки ордера в токенах
}

// RiskConfig - настройки Gating Engine
type RiskConfig struct {
	MaxSnapshotAge         time.Duration
	MaxConcurrentPositions int
	MaxExposurePerSymbol   float64
	VolatilityMin          float64
	VolatilityMax          float64
	MinMoneyFlow           int
	MinRelVolume           float64
	KellyCap               float64
	RiskBudget             float64
	MinSize                float64
	MaxSize                float64
	LotStep                float64
	VaRConfidence          float64
	VaRCeiling             float64
}

// ApprovalConfig - настройки подтверждения планов
type ApprovalConfig struct {
	// Window - окно ожидания кода подтверждения
	Window time.Duration

	// AllowedTags - allow-list policy-тегов (пусто = любой)
	AllowedTags []string

	// AutoApproveTags - классы, которым разрешён auto-approve
	AutoApproveTags []string
}

// TraderConfig - настройки движка исполнения
type TraderConfig struct {
	MagicID                int64
	AccountRefreshInterval time.Duration
	EquityInterval         time.Duration
	StepTimeout            time.Duration

	// PersistInterval - период сохранения снимка состояния в БД
	PersistInterval time.Duration
}

// NotifyConfig - настройки журнала уведомлений
type NotifyConfig struct {
	// KeepCount - сколько последних уведомлений держать в БД (0 = все)
	KeepCount int

	// TelegramToken / TelegramChatID - канал доставки в Telegram (пусто = выключен)
	TelegramToken  string
	TelegramChatID string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	riskDefaults := risk.DefaultConfig()
	connDefaults := conn.DefaultConfig()
	traderDefaults := trader.DefaultConfig()
	approvalDefaults := approval.DefaultConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "orchestrator"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APIKeyHash:    getEnv("API_KEY_HASH", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Broker: BrokerConfig{
			Login:            getEnv("BROKER_LOGIN", ""),
			Password:         getEnv("BROKER_PASSWORD", ""),
			Server:           getEnv("BROKER_SERVER", ""),
			ReconnectInitial: getEnvAsDuration("RECONNECT_INITIAL", connDefaults.Backoff.InitialDelay),
			ReconnectMax:     getEnvAsDuration("RECONNECT_MAX", connDefaults.Backoff.MaxDelay),
			ProbeInterval:    getEnvAsDuration("PROBE_INTERVAL", connDefaults.ProbeInterval),
			ProbeStrikes:     getEnvAsInt("PROBE_STRIKES", connDefaults.ProbeStrikes),
			QueueCapacity:    getEnvAsInt("QUEUE_CAPACITY", connDefaults.QueueCapacity),
			CallTimeout:      getEnvAsDuration("BROKER_CALL_TIMEOUT", connDefaults.CallTimeout),
			RateLimit:        getEnvAsFloat("BROKER_RATE_LIMIT", 10),
			RateBurst:        getEnvAsFloat("BROKER_RATE_BURST", 20),
			OrderCost:        getEnvAsFloat("BROKER_ORDER_COST", connDefaults.OrderCost),
		},
		Risk: RiskConfig{
			MaxSnapshotAge:         getEnvAsDuration("RISK_MAX_SNAPSHOT_AGE", riskDefaults.MaxSnapshotAge),
			MaxConcurrentPositions: getEnvAsInt("RISK_MAX_POSITIONS", riskDefaults.MaxConcurrentPositions),
			MaxExposurePerSymbol:   getEnvAsFloat("RISK_MAX_EXPOSURE", riskDefaults.MaxExposurePerSymbol),
			VolatilityMin:          getEnvAsFloat("RISK_VOLATILITY_MIN", riskDefaults.VolatilityMin),
			VolatilityMax:          getEnvAsFloat("RISK_VOLATILITY_MAX", riskDefaults.VolatilityMax),
			MinMoneyFlow:           getEnvAsInt("RISK_MIN_MONEY_FLOW", riskDefaults.MinMoneyFlow),
			MinRelVolume:           getEnvAsFloat("RISK_MIN_REL_VOLUME", riskDefaults.MinRelVolume),
			KellyCap:               getEnvAsFloat("RISK_KELLY_CAP", riskDefaults.KellyCap),
			RiskBudget:             getEnvAsFloat("RISK_BUDGET", riskDefaults.RiskBudget),
			MinSize:                getEnvAsFloat("RISK_MIN_SIZE", riskDefaults.MinSize),
			MaxSize:                getEnvAsFloat("RISK_MAX_SIZE", riskDefaults.MaxSize),
			LotStep:                getEnvAsFloat("RISK_LOT_STEP", riskDefaults.LotStep),
			VaRConfidence:          getEnvAsFloat("RISK_VAR_CONFIDENCE", riskDefaults.VaRConfidence),
			VaRCeiling:             getEnvAsFloat("RISK_VAR_CEILING", riskDefaults.VaRCeiling),
		},
		Approval: ApprovalConfig{
			Window:          getEnvAsDuration("APPROVAL_WINDOW", approvalDefaults.Window),
			AllowedTags:     getEnvAsList("APPROVAL_ALLOWED_TAGS"),
			AutoApproveTags: getEnvAsList("APPROVAL_AUTO_APPROVE_TAGS"),
		},
		Trader: TraderConfig{
			MagicID:                int64(getEnvAsInt("MAGIC_ID", int(traderDefaults.MagicID))),
			AccountRefreshInterval: getEnvAsDuration("ACCOUNT_REFRESH_INTERVAL", traderDefaults.AccountRefreshInterval),
			EquityInterval:         getEnvAsDuration("EQUITY_INTERVAL", traderDefaults.EquityInterval),
			StepTimeout:            getEnvAsDuration("STEP_TIMEOUT", traderDefaults.StepTimeout),
			PersistInterval:        getEnvAsDuration("PERSIST_INTERVAL", 60*time.Second),
		},
		Notify: NotifyConfig{
			KeepCount:      getEnvAsInt("NOTIFY_KEEP_COUNT", 1000),
			TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
			TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// Ключ шифрования опционален, но если задан - строго 32 байта
	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// API_KEY_HASH, если задан, должен выглядеть как bcrypt-хеш
	if h := c.Security.APIKeyHash; h != "" && !strings.HasPrefix(h, "$2") {
		return fmt.Errorf("API_KEY_HASH must be a bcrypt hash, not a raw key")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Broker.QueueCapacity < 1 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.Broker.QueueCapacity)
	}
	if c.Broker.ProbeStrikes < 1 {
		return fmt.Errorf("PROBE_STRIKES must be positive, got %d", c.Broker.ProbeStrikes)
	}
	if c.Broker.RateLimit <= 0 || c.Broker.RateBurst <= 0 {
		return fmt.Errorf("BROKER_RATE_LIMIT and BROKER_RATE_BURST must be positive")
	}
	if c.Broker.CallTimeout <= 0 {
		return fmt.Errorf("BROKER_CALL_TIMEOUT must be positive, got %v", c.Broker.CallTimeout)
	}

	if c.Risk.KellyCap <= 0 || c.Risk.KellyCap > 1 {
		return fmt.Errorf("RISK_KELLY_CAP must be in (0, 1], got %v", c.Risk.KellyCap)
	}
	if c.Risk.RiskBudget <= 0 || c.Risk.RiskBudget > 1 {
		return fmt.Errorf("RISK_BUDGET must be in (0, 1], got %v", c.Risk.RiskBudget)
	}
	if c.Risk.VaRConfidence <= 0 || c.Risk.VaRConfidence >= 1 {
		return fmt.Errorf("RISK_VAR_CONFIDENCE must be in (0, 1), got %v", c.Risk.VaRConfidence)
	}
	if c.Risk.MinSize > c.Risk.MaxSize {
		return fmt.Errorf("RISK_MIN_SIZE %v exceeds RISK_MAX_SIZE %v", c.Risk.MinSize, c.Risk.MaxSize)
	}

	if c.Approval.Window <= 0 {
		return fmt.Errorf("APPROVAL_WINDOW must be positive, got %v", c.Approval.Window)
	}
	if c.Trader.PersistInterval <= 0 {
		return fmt.Errorf("PERSIST_INTERVAL must be positive, got %v", c.Trader.PersistInterval)
	}
	if c.Notify.KeepCount < 0 {
		return fmt.Errorf("NOTIFY_KEEP_COUNT cannot be negative, got %d", c.Notify.KeepCount)
	}

	return nil
}

// ============================================================
// Переводы в конфиги подсистем
// ============================================================

// ConnConfig собирает конфиг Connection Manager
func (c *Config) ConnConfig() conn.Config {
	cfg := conn.DefaultConfig()
	cfg.Backoff.InitialDelay = c.Broker.ReconnectInitial
	cfg.Backoff.MaxDelay = c.Broker.ReconnectMax
	cfg.ProbeInterval = c.Broker.ProbeInterval
	cfg.ProbeStrikes = c.Broker.ProbeStrikes
	cfg.QueueCapacity = c.Broker.QueueCapacity
	cfg.OrderCost = c.Broker.OrderCost
	cfg.CallTimeout = c.Broker.CallTimeout
	return cfg
}

// RiskEngineConfig собирает конфиг Gating Engine
func (c *Config) RiskEngineConfig() risk.Config {
	cfg := risk.DefaultConfig()
	cfg.MaxSnapshotAge = c.Risk.MaxSnapshotAge
	cfg.MaxConcurrentPositions = c.Risk.MaxConcurrentPositions
	cfg.MaxExposurePerSymbol = c.Risk.MaxExposurePerSymbol
	cfg.VolatilityMin = c.Risk.VolatilityMin
	cfg.VolatilityMax = c.Risk.VolatilityMax
	cfg.MinMoneyFlow = c.Risk.MinMoneyFlow
	cfg.MinRelVolume = c.Risk.MinRelVolume
	cfg.KellyCap = c.Risk.KellyCap
	cfg.RiskBudget = c.Risk.RiskBudget
	cfg.MinSize = c.Risk.MinSize
	cfg.MaxSize = c.Risk.MaxSize
	cfg.LotStep = c.Risk.LotStep
	cfg.VaRConfidence = c.Risk.VaRConfidence
	cfg.VaRCeiling = c.Risk.VaRCeiling
	return cfg
}

// ApprovalWorkflowConfig собирает конфиг Approval Workflow
func (c *Config) ApprovalWorkflowConfig() approval.Config {
	return approval.Config{
		Window:          c.Approval.Window,
		AllowedTags:     c.Approval.AllowedTags,
		AutoApproveTags: c.Approval.AutoApproveTags,
	}
}

// TraderEngineConfig собирает конфиг движка исполнения
func (c *Config) TraderEngineConfig() trader.Config {
	return trader.Config{
		Risk:                   c.RiskEngineConfig(),
		MagicID:                c.Trader.MagicID,
		AccountRefreshInterval: c.Trader.AccountRefreshInterval,
		EquityInterval:         c.Trader.EquityInterval,
		StepTimeout:            c.Trader.StepTimeout,
	}
}

// BrokerPassword возвращает пароль брокера открытым текстом
//
// При заданном ENCRYPTION_KEY значение BROKER_PASSWORD обязано быть
// AES-256-GCM ciphertext в base64 (результат crypto.Encrypt): ключ
// без шифротекста - ошибка конфигурации, а не тихий passthrough.
// Без ключа пароль используется как есть (dev/paper режим).
func (c *Config) BrokerPassword() (string, error) {
	if c.Security.EncryptionKey == "" || c.Broker.Password == "" {
		return c.Broker.Password, nil
	}

	plaintext, err := crypto.Decrypt(c.Broker.Password, []byte(c.Security.EncryptionKey))
	if err != nil {
		return "", fmt.Errorf("decrypt BROKER_PASSWORD: %w", err)
	}
	return plaintext, nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
