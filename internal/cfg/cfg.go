package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// Config holds the gateway's own settings. Platform concerns (http server,
// logging, tracing, ops listener) register their own configs in main.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	BackendURL string
	WSURL      string
	WSPath     string
	APIToken   string
	Locale     string

	RecentLimit int

	DatabaseURL string
	SQLitePath  string
	StateDir    string

	SlackWebhookURL string
	GatewayToken    string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.BackendURL, "backend-url", "", "Crisis Cleanup API base URL, e.g. https://api.crisiscleanup.org")
	fs.StringVar(&c.WSURL, "ws-url", "", "Crisis Cleanup websocket base URL (empty = realtime disabled)")
	fs.StringVar(&c.WSPath, "ws-path", "/ws/notifications", "websocket path appended to ws-url")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token used against the Crisis Cleanup API")
	fs.StringVar(&c.Locale, "locale", "en-US", "locale for translated filter labels")
	fs.IntVar(&c.RecentLimit, "recent-limit", 4, "number of recently opened worksites to remember (1..100)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for local storage")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file for local storage")
	fs.StringVar(&c.StateDir, "state-dir", "", "directory for file-backed local storage")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL that receives error notifications")
	fs.StringVar(&c.GatewayToken, "gateway-token", "", "bearer token required by the gateway API (empty = no auth)")
}

// StorageBackend names the local storage backend the config selects.
func (c *Config) StorageBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	case c.StateDir != "":
		return "file"
	default:
		return "memory"
	}
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if err := checkURL("BACKEND_URL", c.BackendURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	// realtime is optional
	if c.WSURL != "" {
		if err := checkURL("WS_URL", c.WSURL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
		if !strings.HasPrefix(c.WSPath, "/") {
			errs = append(errs, fmt.Errorf("invalid WS_PATH %q (must start with /)", c.WSPath))
		}
	}

	if _, err := language.Parse(c.Locale); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOCALE %q: %w", c.Locale, err))
	}

	if c.RecentLimit <= 0 || c.RecentLimit > 100 {
		errs = append(errs, fmt.Errorf("invalid RECENT_LIMIT %d (must be 1..100)", c.RecentLimit))
	}

	// at most one storage backend
	set := 0
	for _, v := range []string{c.DatabaseURL, c.SQLitePath, c.StateDir} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		errs = append(errs, errors.New("DATABASE_URL, SQLITE_PATH and STATE_DIR are mutually exclusive"))
	}

	if c.SlackWebhookURL != "" {
		if err := checkURL("SLACK_WEBHOOK_URL", c.SlackWebhookURL, "https"); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (scheme must be %s)", name, raw, strings.Join(schemes, " or "))
}
