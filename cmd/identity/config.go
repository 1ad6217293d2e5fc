package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/service/auth"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTTLDays  = 7
	defaultMaxActiveTokens = 5
	defaultBcryptCost      = 12
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the identity service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Access tokens are signed with symmetric encryption, this key is used for that purpose
	SecretKey string

	// Environment (dev, prod)
	Environment string

	// Lifetime of signed access tokens
	AccessTokenTTL time.Duration

	// Lifetime of refresh tokens, whole days
	RefreshTokenTTLDays int

	// Cap of active refresh tokens per user
	MaxRefreshTokens int

	// Bcrypt work factor for password hashing
	BcryptCost int
}

func NewConfig() *Config {
	return &Config{
		LogLevel:            defaultLoggingLevel,
		ListenAddr:          defaultListenAddr,
		Environment:         defaultEnvironment,
		AccessTokenTTL:      defaultAccessTokenTTL,
		RefreshTokenTTLDays: defaultRefreshTTLDays,
		MaxRefreshTokens:    defaultMaxActiveTokens,
		BcryptCost:          defaultBcryptCost,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setInt := func(o *int) func(value string) {
		return func(value string) {
			if parsed, err := strconv.Atoi(value); err == nil {
				*o = parsed
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if parsed, err := time.ParseDuration(value); err == nil {
				*o = parsed
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":                 setString(&c.ListenAddr),
		"DATABASE_URI":                setString(&c.DatabaseDSN),
		"SECRET_KEY":                  setString(&c.SecretKey),
		"LOG_LEVEL":                   setString(&c.LogLevel),
		"ENVIRONMENT":                 setString(&c.Environment),
		"ACCESS_TOKEN_TTL":            setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL_DAYS":      setInt(&c.RefreshTokenTTLDays),
		"MAX_REFRESH_TOKENS_PER_USER": setInt(&c.MaxRefreshTokens),
		"BCRYPT_COST":                 setInt(&c.BcryptCost),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("identity", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.IntVar(&c.RefreshTokenTTLDays, "refresh-ttl-days", c.RefreshTokenTTLDays, "Refresh token lifetime in days")
	fs.IntVar(&c.MaxRefreshTokens, "max-refresh-tokens", c.MaxRefreshTokens, "Max active refresh tokens per user")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", c.BcryptCost, "Bcrypt work factor for password hashing")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("secret key must be set")
	}
	if c.DatabaseDSN == "" {
		return errors.New("database dsn must be set")
	}
	if c.RefreshTokenTTLDays < 1 {
		return errors.New("refresh token ttl must be at least one day")
	}
	if c.MaxRefreshTokens < 1 {
		return errors.New("max refresh tokens per user must be positive")
	}
	if c.BcryptCost < auth.MinHashCost || c.BcryptCost > auth.MaxHashCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", auth.MinHashCost, auth.MaxHashCost)
	}
	return nil
}
