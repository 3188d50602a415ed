package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Log      LogConfig
	Redis    RedisConfig
	Git      GitConfig
	Sync     SyncConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey     string
	TokenDuration string // 令牌有效期，如 "24h"
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSize    int    // MB
	MaxBackups int    // 保留的备份文件数
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩
	Format     string // json 或 text
}

type RedisConfig struct {
	Host     string // Redis主机地址
	Port     int    // Redis端口
	Password string // Redis密码
	DB       int    // Redis数据库编号
	Prefix   string // 键前缀
}

// GitConfig Git仓库相关配置
type GitConfig struct {
	BaseDir          string        // 工作副本根目录
	SSHKeyDir        string        // 生成的SSH密钥存放目录
	DefaultBranch    string        // 默认目标分支
	OperationTimeout time.Duration // 单次Git传输操作超时
	CloneTimeout     time.Duration // 克隆超时（克隆可能较慢，单独配置）
	AuthorName       string        // 提交作者
	AuthorEmail      string
	EncryptionKey    string // 仓库凭证加密密钥（32字节用于AES-256）
	DomainFile       string // 项目布局：domain文件名
	ConfigFile       string // 项目布局：config文件名
	DataDir          string // 项目布局：训练数据目录名
}

// SyncConfig 后台同步与落盘配置
type SyncConfig struct {
	PollCron                string        // 后台轮询cron表达式
	MaxDumpingDelay         time.Duration // 落盘防抖上限
	TelemetryStatusInterval time.Duration // 周期性状态遥测间隔
}

type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // 预检请求缓存时间（小时）
}

// 全局配置实例和同步锁
var (
	globalConfig *Config
	once         sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		var err error
		globalConfig, err = LoadConfig()
		if err != nil {
			panic("Failed to load config: " + err.Error())
		}
	})
	return globalConfig
}

// 获取环境变量，如果不存在则使用默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 获取环境变量转换为int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 获取环境变量转换为bool
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// 获取环境变量转换为time.Duration
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// 获取环境变量转换为字符串数组（逗号分隔）
func getEnvAsStringArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	// .env不存在时直接使用环境变量
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ivc"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", "default-secret-change-me"),
			TokenDuration: getEnv("JWT_TOKEN_DURATION", "24h"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/ivc.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
			Format:     getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "ivc"),
		},
		Git: GitConfig{
			BaseDir:          getEnv("GIT_BASE_DIR", "/data/ivc/repos"),
			SSHKeyDir:        getEnv("GIT_SSH_KEY_DIR", "/data/ivc/keys"),
			DefaultBranch:    getEnv("GIT_DEFAULT_BRANCH", "main"),
			OperationTimeout: getEnvAsDuration("GIT_OPERATION_TIMEOUT", 60*time.Second),
			CloneTimeout:     getEnvAsDuration("GIT_CLONE_TIMEOUT", 5*time.Minute),
			AuthorName:       getEnv("GIT_AUTHOR_NAME", "IVC"),
			AuthorEmail:      getEnv("GIT_AUTHOR_EMAIL", "ivc@localhost"),
			EncryptionKey:    getEnv("GIT_CREDENTIAL_ENCRYPTION_KEY", "ivc-repository-encryption-key-32"),
			DomainFile:       getEnv("GIT_LAYOUT_DOMAIN_FILE", "domain.yml"),
			ConfigFile:       getEnv("GIT_LAYOUT_CONFIG_FILE", "config.yml"),
			DataDir:          getEnv("GIT_LAYOUT_DATA_DIR", "data"),
		},
		Sync: SyncConfig{
			PollCron:                getEnv("SYNC_POLL_CRON", "* * * * *"),
			MaxDumpingDelay:         getEnvAsDuration("SYNC_MAX_DUMPING_DELAY", 30*time.Second),
			TelemetryStatusInterval: getEnvAsDuration("SYNC_TELEMETRY_STATUS_INTERVAL", time.Hour),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnvAsStringArray("CORS_ALLOW_ORIGINS", []string{"*"}),
			AllowMethods:     getEnvAsStringArray("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			AllowHeaders:     getEnvAsStringArray("CORS_ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"}),
			ExposeHeaders:    getEnvAsStringArray("CORS_EXPOSE_HEADERS", []string{"Content-Length", "Content-Type", "X-Total-Count"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 12),
		},
	}

	return config, nil
}
