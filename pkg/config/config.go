package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Dataset    DatasetConfig
	Images     ImagesConfig
	Email      EmailConfig
	Evaluation EvaluationConfig
	Query      QueryConfig
	Athena     AthenaConfig
	DuckDB     DuckDBConfig
	Breaker    BreakerConfig
	Redis      RedisConfig
	SQLite     SQLiteConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   int
	WriteTimeout  int
	BodyLimit     int
	IsDevelopment bool
	// SessionTTLMin is how long an idle reviewer session keeps its selection.
	SessionTTLMin int
}

type DatasetConfig struct {
	CanonicalPath string
	WorkingPath   string
}

type ImagesConfig struct {
	Dir string
}

type EmailConfig struct {
	SourcePath string
}

// EvaluationConfig holds the database identifier the workflow runs gold and
// model SQL against.
type EvaluationConfig struct {
	Database string
}

type QueryConfig struct {
	Engine       string
	TimeoutSec   int
	CacheSize    int
	CacheTTLSec  int
	MaxSQLLength int
}

type AthenaConfig struct {
	Region          string
	Catalog         string
	Workgroup       string
	OutputLocation  string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PollInitialMS   int
	PollMaxMS       int
	MaxRows         int
}

type DuckDBConfig struct {
	Dir string
}

type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	SuccessThreshold uint32
	TimeoutSec       int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads .env, then config.yaml (optional), then NL2SQL_EVAL_* variables.
// An explicit path overrides the search locations.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/nl2sql-eval")
	}

	v.SetEnvPrefix("NL2SQL_EVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The original deployment exported the target database as athena_database.
	if err := v.BindEnv("evaluation.database", "NL2SQL_EVAL_EVALUATION_DATABASE", "athena_database"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Dataset.CanonicalPath == "" || c.Dataset.WorkingPath == "" {
		return fmt.Errorf("dataset.canonicalPath and dataset.workingPath are required")
	}
	if c.Dataset.CanonicalPath == c.Dataset.WorkingPath {
		return fmt.Errorf("dataset working copy must differ from the canonical file")
	}
	switch c.Query.Engine {
	case "athena", "duckdb":
	default:
		return fmt.Errorf("unsupported query engine %q", c.Query.Engine)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8501)
	v.SetDefault("server.readTimeout", 120)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.isDevelopment", false)
	v.SetDefault("server.sessionTTLMin", 720)

	v.SetDefault("dataset.canonicalPath", "nl2sql_wide_experiment_data_20250306_203950.csv")
	v.SetDefault("dataset.workingPath", "nl2sql_wide_experiment_data_working_copy.csv")

	v.SetDefault("images.dir", "images")

	v.SetDefault("email.sourcePath", "Assistance Sought for a Paper I'm Working on --Request for Human Evaluation of NL2SQL Model Performance.eml")

	v.SetDefault("evaluation.database", "edw_prod")

	v.SetDefault("query.engine", "athena")
	v.SetDefault("query.timeoutSec", 300)
	v.SetDefault("query.cacheSize", 256)
	v.SetDefault("query.cacheTTLSec", 3600)
	v.SetDefault("query.maxSQLLength", 20000)

	v.SetDefault("athena.region", "eu-west-1")
	v.SetDefault("athena.catalog", "AwsDataCatalog")
	v.SetDefault("athena.workgroup", "primary")
	v.SetDefault("athena.outputLocation", "")
	v.SetDefault("athena.endpoint", "")
	v.SetDefault("athena.accessKeyID", "")
	v.SetDefault("athena.secretAccessKey", "")
	v.SetDefault("athena.pollInitialMS", 250)
	v.SetDefault("athena.pollMaxMS", 5000)
	v.SetDefault("athena.maxRows", 10000)

	v.SetDefault("duckdb.dir", "./data")

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.failureThreshold", 5)
	v.SetDefault("breaker.successThreshold", 1)
	v.SetDefault("breaker.timeoutSec", 30)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.path", "./data/evaluations.db")

	v.SetDefault("rateLimit.maxRequestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")
}
