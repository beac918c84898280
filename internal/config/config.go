package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

const EnvPrefix = "FW_"

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		DefaultLanguage  string   `env:"LANG,default=en"`
		EnabledHandlers  []string `env:"HANDLERS,default=escalation"`
		LogLevel         int      `env:"LOG_LEVEL,default=4"`
		DotPath          string   `env:"DOT_PATH,default=~/.forumwarden"`
		SeedPath         string   `env:"SEED_PATH"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		Database         Database
		Redis            Redis
		Stream           Stream
		Correlation      Correlation
		ForceDelete      ForceDelete
		Forum            Forum
		Escalation       Escalation
		LLM              LLM
	}

	// Database.DSN may stay empty for sqlite, the file then lives in DotPath.
	Database struct {
		Driver string `env:"DB_DRIVER,default=sqlite"`
		DSN    string `env:"DB_DSN"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB,default=0"`
	}

	Stream struct {
		Prefix   string        `env:"STREAM_PREFIX,default=fw:"`
		Names    []string      `env:"STREAM_NAMES,default=matched,appeal"`
		Group    string        `env:"STREAM_GROUP,default=forumwarden"`
		Consumer string        `env:"STREAM_CONSUMER"`
		Batch    int64         `env:"STREAM_BATCH,default=16"`
		Block    time.Duration `env:"STREAM_BLOCK,default=5s"`
		// ClaimMinIdle is how long an entry stays with a silent consumer
		// before another one takes it over.
		ClaimMinIdle  time.Duration `env:"STREAM_CLAIM_MIN_IDLE,default=1m"`
		MaxDeliveries int64         `env:"STREAM_MAX_DELIVERIES,default=5"`
	}

	Correlation struct {
		TTL time.Duration `env:"CORRELATION_TTL,default=48h"`
	}

	ForceDelete struct {
		MaxMinutes    int           `env:"FORCE_DELETE_MAX_MINUTES,default=60"`
		RPS           float64       `env:"FORCE_DELETE_RPS,default=1"`
		Tick          time.Duration `env:"FORCE_DELETE_TICK,default=1s"`
		Retriable     []int         `env:"FORCE_DELETE_RETRIABLE_CODES,default=220034,300000,1"`
		Fatal         []int         `env:"FORCE_DELETE_FATAL_CODES,default=1989002,4,110000"`
		NotifyExpired bool          `env:"FORCE_DELETE_NOTIFY_EXPIRED,default=false"`
	}

	Forum struct {
		APIURL  string        `env:"FORUM_API_URL,default=http://localhost:8080"`
		Timeout time.Duration `env:"FORUM_HTTP_TIMEOUT,default=10s"`
	}

	Escalation struct {
		DeleteReactions []string `env:"DELETE_REACTIONS,default=👎"`
		BanReactions    []string `env:"BAN_REACTIONS,default=💩"`
		DefaultBanDays  int      `env:"DEFAULT_BAN_DAYS,default=1"`
	}

	LLM struct {
		APIKey  string `env:"LLM_API_KEY"`
		Model   string `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type    string `env:"LLM_API_TYPE,default=openai"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

// Load reads the environment once. A .env file in the working directory is
// applied first and never overrides variables that are already set.
func Load() (Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warn("cant read .env file")
		}
		cfg, err := process(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

func process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	return cfg, nil
}

func (f ForceDelete) MaxDuration() time.Duration {
	return time.Duration(f.MaxMinutes) * time.Minute
}
