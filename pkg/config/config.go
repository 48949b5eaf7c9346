package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	SEC struct {
		UserAgent       string        `yaml:"user_agent"`
		BaseURL         string        `yaml:"base_url"`
		ArchivesURL     string        `yaml:"archives_url"`
		DataURL         string        `yaml:"data_url"`
		RatePerSecond   float64       `yaml:"rate_per_second"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		Forms           []string      `yaml:"forms"`
		LookbackMinutes int           `yaml:"lookback_minutes"`
		SnapshotPath    string        `yaml:"snapshot_path"`
		DataDir         string        `yaml:"data_dir"`
	} `yaml:"sec"`

	Database struct {
		Driver     string `yaml:"driver"` // postgres | sqlite
		URL        string `yaml:"url"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		User       string `yaml:"user"`
		Password   string `yaml:"password"`
		DBName     string `yaml:"dbname"`
		SSLMode    string `yaml:"sslmode"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	NATS struct {
		URL        string `yaml:"url"`
		Stream     string `yaml:"stream"`
		MaxDeliver int    `yaml:"max_deliver"`
	} `yaml:"nats"`

	Redis struct {
		URL        string        `yaml:"url"`
		DefaultTTL time.Duration `yaml:"default_ttl"`
	} `yaml:"redis"`

	LLM struct {
		Provider     string        `yaml:"provider"` // openai | gemini
		APIURL       string        `yaml:"api_url"`
		APIKey       string        `yaml:"api_key"`
		Model        string        `yaml:"model"`
		Temperature  float64       `yaml:"temperature"`
		MaxTokens    int           `yaml:"max_tokens"`
		Timeout      time.Duration `yaml:"timeout"`
		ContentLimit int           `yaml:"content_limit"`
	} `yaml:"llm"`

	Estimates struct {
		FMPAPIKey string        `yaml:"fmp_api_key"`
		BaseURL   string        `yaml:"base_url"`
		CacheTTL  time.Duration `yaml:"cache_ttl"`
	} `yaml:"estimates"`

	Scheduler struct {
		ScanInterval  time.Duration `yaml:"scan_interval"`
		EarningsHour  int           `yaml:"earnings_hour"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		SweepBatch    int           `yaml:"sweep_batch"`
	} `yaml:"scheduler"`

	Worker struct {
		Concurrency            int           `yaml:"concurrency"`
		MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
		MaxRetries             int           `yaml:"max_retries"`
		RetryBase              time.Duration `yaml:"retry_base"`
		SoftTimeout            time.Duration `yaml:"soft_timeout"`
		HardTimeout            time.Duration `yaml:"hard_timeout"`
		RatePerMinute          int           `yaml:"rate_per_minute"`
		ClaimTTL               time.Duration `yaml:"claim_ttl"`
	} `yaml:"worker"`

	API struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"api"`

	Features struct {
		AIProcessing  bool `yaml:"ai_processing"`
		Notifications bool `yaml:"notifications"`
		EarningsSync  bool `yaml:"earnings_sync"`
		Estimates     bool `yaml:"estimates"`
	} `yaml:"features"`
}

// Default 默认配置
func Default() *Config {
	var c Config
	c.App.Name = "filingradar"
	c.App.Env = "dev"
	c.App.LogLevel = "info"

	c.SEC.UserAgent = "FilingRadar admin@example.com"
	c.SEC.BaseURL = "https://www.sec.gov"
	c.SEC.ArchivesURL = "https://www.sec.gov/Archives/edgar/data"
	c.SEC.DataURL = "https://data.sec.gov"
	c.SEC.RatePerSecond = 10
	c.SEC.RequestTimeout = 30 * time.Second
	c.SEC.Forms = []string{"10-K", "10-Q", "8-K", "S-1"}
	c.SEC.LookbackMinutes = 60
	c.SEC.SnapshotPath = "data/sp500_companies.json"
	c.SEC.DataDir = "data/filings"

	c.Database.Driver = "postgres"
	c.Database.Host = "localhost"
	c.Database.Port = 5432
	c.Database.User = "postgres"
	c.Database.DBName = "filingradar"
	c.Database.SSLMode = "disable"
	c.Database.SQLitePath = "data/filingradar.db"

	c.NATS.URL = "nats://localhost:4222"
	c.NATS.Stream = "FILINGS"
	c.NATS.MaxDeliver = 10

	c.Redis.URL = "redis://localhost:6379/0"
	c.Redis.DefaultTTL = 300 * time.Second

	c.LLM.Provider = "openai"
	c.LLM.APIURL = "https://api.openai.com/v1/chat/completions"
	c.LLM.Model = "gpt-4o-mini"
	c.LLM.Temperature = 0.3
	c.LLM.MaxTokens = 16000
	c.LLM.Timeout = 120 * time.Second
	c.LLM.ContentLimit = 45000

	c.Estimates.BaseURL = "https://financialmodelingprep.com/api/v3"
	c.Estimates.CacheTTL = 3600 * time.Second

	c.Scheduler.ScanInterval = 60 * time.Second
	c.Scheduler.EarningsHour = 6
	c.Scheduler.SweepInterval = 10 * time.Minute
	c.Scheduler.SweepBatch = 20

	c.Worker.Concurrency = 2
	c.Worker.MaxConcurrentDownloads = 3
	c.Worker.MaxRetries = 3
	c.Worker.RetryBase = 60 * time.Second
	c.Worker.SoftTimeout = 300 * time.Second
	c.Worker.HardTimeout = 600 * time.Second
	c.Worker.RatePerMinute = 10
	c.Worker.ClaimTTL = 15 * time.Minute

	c.API.Port = "8080"
	c.API.ReadTimeout = 10 * time.Second
	c.API.WriteTimeout = 30 * time.Second

	c.Features.AIProcessing = true
	c.Features.Notifications = true
	c.Features.EarningsSync = true
	c.Features.Estimates = true

	return &c
}

// LoadConfig 从文件加载配置，文件不存在时使用默认值
func LoadConfig(path string) (*Config, error) {
	// .env 可选
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载.env失败: %w", err)
	}

	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	overrideFromEnv(config)

	return config, nil
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	setString(&config.App.Name, "APP_NAME")
	setString(&config.App.Env, "APP_ENV")
	setString(&config.App.LogLevel, "LOG_LEVEL")

	// SEC
	setString(&config.SEC.UserAgent, "SEC_USER_AGENT")
	setString(&config.SEC.SnapshotPath, "SP500_SNAPSHOT_PATH")
	setString(&config.SEC.DataDir, "FILINGS_DATA_DIR")
	setInt(&config.SEC.LookbackMinutes, "FILING_LOOKBACK_MINUTES")
	if env := os.Getenv("SEC_FORMS"); env != "" {
		config.SEC.Forms = strings.Split(env, ",")
	}

	// 数据库
	setString(&config.Database.Driver, "DB_DRIVER")
	setString(&config.Database.URL, "DATABASE_URL")
	setString(&config.Database.Host, "DB_HOST")
	setInt(&config.Database.Port, "DB_PORT")
	setString(&config.Database.User, "DB_USER")
	setString(&config.Database.Password, "DB_PASSWORD")
	setString(&config.Database.DBName, "DB_NAME")
	setString(&config.Database.SQLitePath, "SQLITE_PATH")

	setString(&config.NATS.URL, "NATS_URL")
	setString(&config.Redis.URL, "REDIS_URL")

	// LLM
	setString(&config.LLM.Provider, "LLM_PROVIDER")
	setString(&config.LLM.APIURL, "LLM_API_URL")
	setString(&config.LLM.Model, "LLM_MODEL")
	setInt(&config.LLM.MaxTokens, "AI_MAX_TOKENS")
	setFloat(&config.LLM.Temperature, "AI_TEMPERATURE")
	if config.LLM.Provider == "gemini" {
		setString(&config.LLM.APIKey, "GEMINI_API_KEY")
	} else {
		setString(&config.LLM.APIKey, "OPENAI_API_KEY")
	}

	setString(&config.Estimates.FMPAPIKey, "FMP_API_KEY")

	if env := os.Getenv("SCHEDULER_INTERVAL_MINUTES"); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			config.Scheduler.ScanInterval = time.Duration(n) * time.Minute
		}
	}
	setInt(&config.Worker.Concurrency, "MAX_CONCURRENT_AI_TASKS")
	setInt(&config.Worker.MaxConcurrentDownloads, "MAX_CONCURRENT_DOWNLOADS")

	setString(&config.API.Port, "API_PORT")

	setBool(&config.Features.AIProcessing, "ENABLE_AI_PROCESSING")
	setBool(&config.Features.Notifications, "ENABLE_NOTIFICATIONS")
	setBool(&config.Features.EarningsSync, "ENABLE_EARNINGS_SYNC")
	setBool(&config.Features.Estimates, "ENABLE_ESTIMATES")
}

func setString(dst *string, key string) {
	if env := os.Getenv(key); env != "" {
		*dst = env
	}
}

func setInt(dst *int, key string) {
	if env := os.Getenv(key); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if env := os.Getenv(key); env != "" {
		if f, err := strconv.ParseFloat(env, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if env := os.Getenv(key); env != "" {
		if b, err := strconv.ParseBool(env); err == nil {
			*dst = b
		}
	}
}

// PostgresDSN 构建Postgres连接字符串，DATABASE_URL优先
func (c *Config) PostgresDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	db := c.Database
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.User, db.Password, db.DBName, db.SSLMode,
	)
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev" // 默认开发环境
	}

	return fmt.Sprintf("configs/%s/app.yaml", env)
}
