package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":3000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// API key for machine callers (X-API-Key header). Empty disables key access.
	APIKey               string `envconfig:"API_KEY" default:""`
	AdminDefaultPassword string `envconfig:"ADMIN_DEFAULT_PASSWORD" default:"admin"`

	// zca bridge sidecar that owns the Zalo wire protocol
	BridgeURL string `envconfig:"BRIDGE_URL" default:"http://localhost:3001"`

	// Proxy allocation
	MaxAccountsPerProxy int `envconfig:"MAX_ACCOUNTS_PER_PROXY" default:"3"`

	// Webhook sinks. Empty means events of that category are dropped.
	MessageWebhookURL      string        `envconfig:"MESSAGE_WEBHOOK_URL" default:""`
	GroupEventWebhookURL   string        `envconfig:"GROUP_EVENT_WEBHOOK_URL" default:""`
	ReactionWebhookURL     string        `envconfig:"REACTION_WEBHOOK_URL" default:""`
	LoginSuccessWebhookURL string        `envconfig:"WEBHOOK_LOGIN_SUCCESS" default:""`
	WebhookRoutesFile      string        `envconfig:"WEBHOOK_ROUTES_FILE" default:""`
	WebhookTimeout         time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`

	// Reconnect policy
	ReloginCooldown     time.Duration `envconfig:"RELOGIN_COOLDOWN" default:"3m"`
	MaxRetryAttempts    int           `envconfig:"MAX_RETRY_ATTEMPTS" default:"5"`
	RetryResetAfter     time.Duration `envconfig:"RETRY_RESET_AFTER" default:"30m"`
	RetryDelayCap       time.Duration `envconfig:"RETRY_DELAY_CAP" default:"10m"`
	HealthCheckInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"2m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("ZALOGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "zalogate.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "zalogate.log")
	}
}
