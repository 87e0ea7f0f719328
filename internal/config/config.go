// Package config loads process configuration from registry.yml plus
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/mkcommunity/registry/pkg/log"
)

var (
	ErrReadConfig   = errors.New("failed to read config file")
	ErrFormatConfig = errors.New("config file format invalid")
)

type Config struct {
	General   General   `mapstructure:"general"`
	DB        DB        `mapstructure:"database"`
	HTTP      HTTP      `mapstructure:"http"`
	S3        S3        `mapstructure:"s3"`
	Admin     Admin     `mapstructure:"admin"`
	Discord   Discord   `mapstructure:"discord"`
	IPLogging IPLogging `mapstructure:"ip_logging"`
	Log       Log       `mapstructure:"logging"`
}

type General struct {
	SiteName string `mapstructure:"site_name"`
	SiteURL  string `mapstructure:"site_url"`
	Mode     string `mapstructure:"mode"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
}

type DB struct {
	Directory string `mapstructure:"directory"`
	Reset     bool   `mapstructure:"reset"`
}

type HTTP struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CorsOrigins []string `mapstructure:"cors_origins"`
}

func (h HTTP) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type S3 struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Enabled reports whether a real S3 endpoint is configured. Without one the
// process falls back to the in-memory store, for development only.
func (s S3) Enabled() bool {
	return s.Endpoint != ""
}

type Admin struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type Discord struct {
	Enabled       bool   `mapstructure:"enabled"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	OAuthCallback string `mapstructure:"oauth_callback"`
}

type IPLogging struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIEndpoint string `mapstructure:"api_endpoint"`
	APIKey      string `mapstructure:"api_key"`
}

type Log struct {
	Level     log.Level `mapstructure:"level"`
	File      string    `mapstructure:"file"`
	SentryDSN string    `mapstructure:"sentry_dsn"`
}

//nolint:gochecknoglobals
var envBindings = map[string]string{
	"general.debug":       "DEBUG",
	"general.site_url":    "SITE_URL",
	"general.env":         "ENV",
	"database.directory":  "DB_DIRECTORY",
	"database.reset":      "RESET_DATABASE",
	"s3.access_key":       "S3_ACCESS_KEY",
	"s3.secret_key":       "S3_SECRET_KEY",
	"s3.endpoint":         "S3_ENDPOINT",
	"admin.email":         "API_ADMIN_EMAIL",
	"admin.password":      "API_ADMIN_PASSWORD",
	"discord.enabled":     "ENABLE_DISCORD",
	"discord.client_id":   "DISCORD_CLIENT_ID",
	"discord.client_secret": "DISCORD_CLIENT_SECRET",
	"discord.oauth_callback": "DISCORD_OAUTH_CALLBACK",
	"ip_logging.enabled":  "ENABLE_IP_LOGGING",
}

func setDefaults() {
	viper.SetDefault("general.site_name", "MK Community Registry")
	viper.SetDefault("general.mode", gin.ReleaseMode)
	viper.SetDefault("general.env", "production")
	viper.SetDefault("database.directory", "./data")
	viper.SetDefault("http.host", "0.0.0.0")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("logging.level", log.Info)
}

// Read loads the config file (optional) and applies environment overrides.
func Read(configFile string) (Config, error) {
	setDefaults()

	viper.SetConfigFile(configFile)

	// A missing config file is fine, the environment can carry everything.
	if errReadConfig := viper.ReadInConfig(); errReadConfig != nil && !errors.Is(errReadConfig, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(errReadConfig, &notFound) {
			return Config{}, errors.Join(errReadConfig, ErrReadConfig)
		}
	}

	for key, env := range envBindings {
		if errBind := viper.BindEnv(key, env); errBind != nil {
			return Config{}, errors.Join(errBind, ErrReadConfig)
		}
	}

	var config Config
	if errUnmarshal := viper.Unmarshal(&config); errUnmarshal != nil {
		return Config{}, errors.Join(errUnmarshal, ErrFormatConfig)
	}

	if config.General.Debug {
		config.General.Mode = gin.DebugMode
		config.Log.Level = log.Debug
	}

	return config, nil
}
