package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Scholar ScholarConfig `yaml:"scholar" mapstructure:"scholar"`
	Enrich  EnrichConfig  `yaml:"enrich" mapstructure:"enrich"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the checkpoint backend.
type StoreConfig struct {
	// Driver is one of file, sqlite, postgres.
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ScholarConfig holds lookup service settings.
type ScholarConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	QPS     float64 `yaml:"qps" mapstructure:"qps"`
}

// EnrichConfig configures the enrichment run.
type EnrichConfig struct {
	Strategy       string        `yaml:"strategy" mapstructure:"strategy"`
	MaxRetryPasses int           `yaml:"max_retry_passes" mapstructure:"max_retry_passes"`
	MinDelay       time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	SaveEvery      int           `yaml:"save_every" mapstructure:"save_every"`
}

// ReportConfig configures report generation.
type ReportConfig struct {
	OutputDir       string `yaml:"output_dir" mapstructure:"output_dir"`
	GovernmentRules string `yaml:"government_rules" mapstructure:"government_rules"`
	IndustryRules   string `yaml:"industry_rules" mapstructure:"industry_rules"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is sufficient for the given mode.
// Collects all problems instead of stopping at the first.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "file":
		if c.Store.Dir == "" {
			problems = append(problems, "store.dir is required for the file driver")
		}
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be file, sqlite, or postgres")
	}

	switch mode {
	case "enrich":
		if c.Enrich.MaxRetryPasses < 0 {
			problems = append(problems, "enrich.max_retry_passes must be >= 0")
		}
		if c.Enrich.MinDelay <= 0 || c.Enrich.MaxDelay <= c.Enrich.MinDelay {
			problems = append(problems, "enrich delays must satisfy 0 < min_delay < max_delay")
		}
		if c.Enrich.SaveEvery < 1 {
			problems = append(problems, "enrich.save_every must be >= 1")
		}
	case "report":
		if c.Report.OutputDir == "" {
			problems = append(problems, "report.output_dir is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "status":
		// store checks above are enough
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CITEMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "run")
	v.SetDefault("store.path", "citemap.db")
	v.SetDefault("scholar.base_url", "https://api.scholarmap.dev/v1")
	v.SetDefault("scholar.qps", 1.0)
	v.SetDefault("enrich.strategy", "aggressive")
	v.SetDefault("enrich.max_retry_passes", 3)
	v.SetDefault("enrich.min_delay", time.Second)
	v.SetDefault("enrich.max_delay", 5*time.Second)
	v.SetDefault("enrich.save_every", 1)
	v.SetDefault("report.output_dir", "results")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
