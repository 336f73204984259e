package bot

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config keeps bot configuration. Every field is read from the environment,
// optionally pre-populated from a .env file.
type Config struct {
	TgToken         string        `envconfig:"TG_TOKEN" required:"true"`
	TgRetryAttempts int           `envconfig:"TG_RETRY_ATTEMPTS" default:"3"`
	TgRetryDelay    time.Duration `envconfig:"TG_RETRY_DELAY" default:"1s"`

	CommandPrefix string `envconfig:"COMMAND_PREFIX" default:"!"`
	AdminUserID   int64  `envconfig:"ADMIN_USER_ID" default:"0"`

	QuoteURL      string        `envconfig:"QUOTE_URL" default:"https://zenquotes.io/api/random"`
	QuoteMaxTries int           `envconfig:"QUOTE_MAX_TRIES" default:"2"`
	QuoteBackoff  time.Duration `envconfig:"QUOTE_BACKOFF" default:"1s"`
	QuoteTimeout  time.Duration `envconfig:"QUOTE_TIMEOUT" default:"10s"`

	LogFile  string `envconfig:"LOG_FILE" default:"logs/bot.log"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DBConfig

	FlashcardsDir   string        `envconfig:"FLASHCARDS_DIR" default:"data/flashcards"`
	LocalQuotesFile string        `envconfig:"LOCAL_QUOTES_FILE" default:"data/quotes.json"`
	QuizTimeout     time.Duration `envconfig:"QUIZ_TIMEOUT" default:"20s"`

	BroadcastAt       string `envconfig:"BROADCAST_AT" default:"09:00"`
	BroadcastTimeZone string `envconfig:"BROADCAST_TZ" default:"America/New_York"`

	CommandsPerMinute float64 `envconfig:"COMMANDS_PER_MINUTE" default:"30"`
	CommandBurst      int     `envconfig:"COMMAND_BURST" default:"5"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:""`

	RollbarToken       string `envconfig:"ROLLBAR_TOKEN" default:""`
	RollbarEnvironment string `envconfig:"ROLLBAR_ENV" default:"development"`
}

// DBConfig locates the database. It's shared by the bot and the maintenance
// commands that don't talk to Telegram.
type DBConfig struct {
	DBDriver  string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBConnStr string `envconfig:"DB_PATH" default:"data/bot.db"`
}

// LoadConfig reads the .env file (if it exists) into the process environment
// and then parses the environment into Config.
func LoadConfig(envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed parsing environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDBConfig is LoadConfig for the database settings only
func LoadDBConfig(envFile string) (*DBConfig, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	var cfg DBConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed parsing environment")
	}
	return &cfg, nil
}

// loadEnvFile loads variables from the file unless they are already set. A
// missing file isn't an error.
func loadEnvFile(envFile string) error {
	if envFile == "" {
		return nil
	}

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed checking %s", envFile)
	}

	if err := godotenv.Load(envFile); err != nil {
		return errors.Wrapf(err, "failed loading %s", envFile)
	}
	return nil
}

// Validate makes sure that the values are usable
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.CommandPrefix) == "" {
		problems = append(problems, "COMMAND_PREFIX is empty")
	}
	if c.QuoteMaxTries < 1 {
		problems = append(problems, "QUOTE_MAX_TRIES must be at least 1")
	}
	if c.QuoteTimeout <= 0 {
		problems = append(problems, "QUOTE_TIMEOUT must be positive")
	}
	if c.TgRetryAttempts < 1 {
		problems = append(problems, "TG_RETRY_ATTEMPTS must be at least 1")
	}
	if c.QuizTimeout <= 0 {
		problems = append(problems, "QUIZ_TIMEOUT must be positive")
	}
	if c.CommandsPerMinute <= 0 || c.CommandBurst < 1 {
		problems = append(problems, "command rate limit must be positive")
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
