// Package config loads server settings from flags, environment, an optional
// .env file and an optional YAML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. SYNC_PORT.
const EnvPrefix = "SYNC"

// DB selects the credential store backend.
type DB struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`    // postgres only
}

// Config holds all server settings.
type Config struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Base           string   `mapstructure:"base"`
	DB             DB       `mapstructure:"db"`
	PasswordScheme string   `mapstructure:"password_scheme"`
	TokenMode      string   `mapstructure:"token_mode"`
	LockMode       string   `mapstructure:"lock_mode"`
	MaxPayloadMegs int      `mapstructure:"max_payload_megs"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	LogLevel       string   `mapstructure:"log_level"`
	Dev            bool     `mapstructure:"dev"`

	// TrustProxyHeaders takes the client address from forwarding headers.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`

	// Login throttling; LoginMaxFailures 0 disables it.
	LoginMaxFailures int           `mapstructure:"login_max_failures"`
	LoginWindow      time.Duration `mapstructure:"login_window"`
	LoginBlock       time.Duration `mapstructure:"login_block"`
}

// Defaults returns the built-in value of every key.
func Defaults() map[string]any {
	base := ".syncserver"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".syncserver")
	}
	return map[string]any{
		"host":                "0.0.0.0",
		"port":                8080,
		"base":                base,
		"db.driver":           "sqlite",
		"db.dsn":              "",
		"password_scheme":     "argon2id",
		"token_mode":          "deterministic",
		"lock_mode":           "session",
		"max_payload_megs":    100,
		"cors_origins":        []string{},
		"log_level":           "info",
		"dev":                 false,
		"trust_proxy_headers": false,
		"login_max_failures":  0,
		"login_window":        15 * time.Minute,
		"login_block":         15 * time.Minute,
	}
}

// flagKeys maps command flag names to config keys.
var flagKeys = map[string]string{
	"host":                "host",
	"port":                "port",
	"base":                "base",
	"db-driver":           "db.driver",
	"db-dsn":              "db.dsn",
	"password-scheme":     "password_scheme",
	"token-mode":          "token_mode",
	"lock-mode":           "lock_mode",
	"max-payload-megs":    "max_payload_megs",
	"cors-origins":        "cors_origins",
	"log-level":           "log_level",
	"dev":                 "dev",
	"trust-proxy-headers": "trust_proxy_headers",
	"login-max-failures":  "login_max_failures",
	"login-window":        "login_window",
	"login-block":         "login_block",
}

// Options controls where Load looks for settings.
type Options struct {
	ConfigFile string // explicit YAML file; empty searches for syncserver.yaml
	EnvFile    string // .env overlay; empty tries ./.env
}

// Load resolves settings with precedence flags > env > .env > file > defaults.
// Only flags the user actually set override lower layers.
func Load(cmd *cobra.Command, opts Options) (Config, error) {
	var c Config

	if err := loadDotEnv(opts.EnvFile); err != nil {
		return c, err
	}

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("syncserver")
	v.SetConfigType("yaml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "syncserver"))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			f := cmd.Flags().Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return c, err
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, c.Validate()
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// RegisterFlags declares the server flags on cmd.
func RegisterFlags(cmd *cobra.Command) {
	d := Defaults()
	f := cmd.Flags()
	f.String("host", d["host"].(string), "listen host")
	f.Int("port", d["port"].(int), "listen port")
	f.String("base", d["base"].(string), "data folder for credentials and per-account state")
	f.String("db-driver", d["db.driver"].(string), "credential store backend (sqlite, postgres)")
	f.String("db-dsn", "", "postgres connection string")
	f.String("password-scheme", d["password_scheme"].(string), "hash for new passwords (argon2id, md5)")
	f.String("token-mode", d["token_mode"].(string), "session key issuing (deterministic, random)")
	f.String("lock-mode", d["lock_mode"].(string), "operation serialization (session, global)")
	f.Int("max-payload-megs", d["max_payload_megs"].(int), "request body limit in MiB")
	f.StringSlice("cors-origins", nil, "allowed CORS origins")
	f.String("log-level", d["log_level"].(string), "log level")
	f.Bool("dev", false, "development logging")
	f.Bool("trust-proxy-headers", false, "take the client address from X-Forwarded-For and similar headers")
	f.Int("login-max-failures", 0, "failed logins before a temporary block (0 disables)")
	f.Duration("login-window", d["login_window"].(time.Duration), "window for counting failed logins")
	f.Duration("login-block", d["login_block"].(time.Duration), "block duration after too many failures")
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var problems []string
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Base == "" {
		problems = append(problems, "base folder is empty")
	}
	switch c.DB.Driver {
	case "sqlite":
	case "postgres":
		if c.DB.DSN == "" {
			problems = append(problems, "db.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown db.driver %q", c.DB.Driver))
	}
	if c.PasswordScheme != "argon2id" && c.PasswordScheme != "md5" {
		problems = append(problems, fmt.Sprintf("unknown password_scheme %q", c.PasswordScheme))
	}
	if c.TokenMode != "deterministic" && c.TokenMode != "random" {
		problems = append(problems, fmt.Sprintf("unknown token_mode %q", c.TokenMode))
	}
	if c.LockMode != "session" && c.LockMode != "global" {
		problems = append(problems, fmt.Sprintf("unknown lock_mode %q", c.LockMode))
	}
	if c.MaxPayloadMegs <= 0 {
		problems = append(problems, "max_payload_megs must be positive")
	}
	if c.LoginMaxFailures < 0 {
		problems = append(problems, "login_max_failures must not be negative")
	}
	if c.LoginMaxFailures > 0 && (c.LoginWindow <= 0 || c.LoginBlock <= 0) {
		problems = append(problems, "login_window and login_block must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthDBPath is the SQLite credential file inside the base folder. The name
// matches credential files created by earlier server versions.
func (c Config) AuthDBPath() string { return filepath.Join(c.Base, "user.db") }

// IsRunning reports whether something accepts TCP connections on the
// configured address.
func IsRunning(ctx context.Context, c Config) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
