package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	// Config holds all knobs of the client engine. It is loaded once at
	// startup and passed around explicitly.
	Config struct {
		AppName string
		Env     string // DEV (local; default), TEST, QA, PROD
		Debug   bool
		Build   string

		// API holds settings of the backend the engine talks to.
		API APIConfig

		// SessionFile is where the authenticated session (token + user,
		// always as one document) is persisted across restarts.
		SessionFile string

		RollbarToken string
	}

	APIConfig struct {
		BaseURL        string
		RequestTimeout time.Duration

		// PageSize is the fixed page size of every list fetch.
		PageSize int

		// LookupDebounce is the quiet period after the last keystroke
		// before a type-ahead search request is issued.
		LookupDebounce time.Duration
		LookupMinChars int
	}
)

func (c *Config) IsDebug() bool { return c.Debug }
func (c *Config) IsTest() bool  { return c.Env == "TEST" }

// LoadConfig reads configuration from the environment, with defaults
// suitable for local development. A `config/.env.<env>` file is loaded
// first if it exists.
func LoadConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Shule")
	conf.SetDefault("build", "dev")
	conf.SetDefault("apiBaseUrl", "http://localhost:8000/api")
	conf.SetDefault("apiRequestTimeout", 30*time.Second)
	conf.SetDefault("pageSize", 25)
	conf.SetDefault("lookupDebounce", 350*time.Millisecond)
	conf.SetDefault("lookupMinChars", 1)
	conf.SetDefault("sessionFile", defaultSessionFile())
	conf.SetDefault("rollbarToken", "")

	env := os.Getenv("ENV")
	if env == "" {
		env = "DEV"
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd: %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		AppName: conf.GetString("appName"),
		Env:     env,
		Debug:   conf.GetBool("debug"),
		Build:   conf.GetString("build"),
		API: APIConfig{
			BaseURL:        strings.TrimRight(conf.GetString("apiBaseUrl"), "/"),
			RequestTimeout: conf.GetDuration("apiRequestTimeout"),
			PageSize:       conf.GetInt("pageSize"),
			LookupDebounce: conf.GetDuration("lookupDebounce"),
			LookupMinChars: conf.GetInt("lookupMinChars"),
		},
		SessionFile:  conf.GetString("sessionFile"),
		RollbarToken: conf.GetString("rollbarToken"),
	}
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".shule", "session.json")
}
