package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	authConfig "github.com/iurnickita/cropchain/internal/auth/config"
	handlerConfig "github.com/iurnickita/cropchain/internal/handler/config"
	loggerConfig "github.com/iurnickita/cropchain/internal/logger/config"
	serviceConfig "github.com/iurnickita/cropchain/internal/service/config"
	storeConfig "github.com/iurnickita/cropchain/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	Auth    authConfig.Config
}

const (
	defaultServerAddr      = ":8080"
	defaultLogLevel        = "info"
	defaultRedisKey        = "crops"
	defaultSessionSecret   = "cropchain-dev-secret"
	defaultSessionTTL      = 24 * time.Hour
	defaultUpdateRetries   = 3
	defaultShutdownTimeout = 10 * time.Second
)

// GetConfig читает конфигурацию: .env, затем флаги командной строки.
// Переменные окружения имеют приоритет над флагами.
func GetConfig() Config {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) Config {
	// .env необязателен
	_ = godotenv.Load()

	var cfg Config

	fs.StringVar(&cfg.Handler.ServerAddr, "a", defaultServerAddr, "server address")
	fs.StringVar(&cfg.Logger.LogLevel, "l", defaultLogLevel, "log level")
	fs.StringVar(&cfg.Store.DBDsn, "d", "", "PostgreSQL DSN")
	fs.StringVar(&cfg.Store.RedisAddr, "r", "", "Redis address")
	fs.StringVar(&cfg.Store.RedisKey, "k", defaultRedisKey, "Redis key holding the crop collection")
	fs.StringVar(&cfg.Service.WalletAddr, "w", "", "wallet JSON-RPC address")
	fs.StringVar(&cfg.Auth.Secret, "s", defaultSessionSecret, "session signing secret")
	fs.Parse(args)

	cfg.Service.UpdateRetries = defaultUpdateRetries
	cfg.Auth.SessionTTL = defaultSessionTTL
	cfg.Handler.ShutdownTimeout = defaultShutdownTimeout

	if envRunAddr := os.Getenv("RUN_ADDRESS"); envRunAddr != "" {
		cfg.Handler.ServerAddr = envRunAddr
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Logger.LogLevel = envLogLevel
	}
	if envDBDsn := os.Getenv("DATABASE_URI"); envDBDsn != "" {
		cfg.Store.DBDsn = envDBDsn
	}
	if envRedisAddr := os.Getenv("REDIS_ADDRESS"); envRedisAddr != "" {
		cfg.Store.RedisAddr = envRedisAddr
	}
	if envRedisKey := os.Getenv("REDIS_KEY"); envRedisKey != "" {
		cfg.Store.RedisKey = envRedisKey
	}
	if envWalletAddr := os.Getenv("WALLET_ADDRESS"); envWalletAddr != "" {
		cfg.Service.WalletAddr = envWalletAddr
	}
	if envSecret := os.Getenv("SESSION_SECRET"); envSecret != "" {
		cfg.Auth.Secret = envSecret
	}
	if envRetries := os.Getenv("UPDATE_RETRIES"); envRetries != "" {
		if retries, err := strconv.Atoi(envRetries); err == nil {
			cfg.Service.UpdateRetries = retries
		}
	}

	return cfg
}
