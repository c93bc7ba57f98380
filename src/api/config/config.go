package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "stakegate"

type Config struct {
	Env      string `yaml:"env"      envconfig:"ENV"`
	Port     string `yaml:"port"     envconfig:"PORT"`
	MySQLDSN string `yaml:"mysqlDsn" envconfig:"MYSQL_DSN"`
	// SQLitePath switches the record store to sqlite; used for local runs.
	SQLitePath string `yaml:"sqlitePath" envconfig:"SQLITE_PATH"`
	RedisURL   string `yaml:"redisUrl"   envconfig:"REDIS_URL"`

	JWTSecret       string        `yaml:"jwtSecret"       envconfig:"JWT_SECRET"`
	ChallengeSecret string        `yaml:"challengeSecret" envconfig:"CHALLENGE_SECRET"`
	ChallengeTTL    time.Duration `yaml:"challengeTtl"    envconfig:"CHALLENGE_TTL"`
	AdminToken      string        `yaml:"adminToken"      envconfig:"ADMIN_TOKEN"`

	LedgerURL           string        `yaml:"ledgerUrl"           envconfig:"LEDGER_URL"`
	LedgerTimeout       time.Duration `yaml:"ledgerTimeout"       envconfig:"LEDGER_TIMEOUT"`
	LedgerTxLimit       int           `yaml:"ledgerTxLimit"       envconfig:"LEDGER_TX_LIMIT"`
	LedgerCacheTTL      time.Duration `yaml:"ledgerCacheTtl"      envconfig:"LEDGER_CACHE_TTL"`
	AddressPrefix       string        `yaml:"addressPrefix"       envconfig:"ADDRESS_PREFIX"`
	VerificationAddress string        `yaml:"verificationAddress" envconfig:"VERIFICATION_ADDRESS"`
	StakeDenom          string        `yaml:"stakeDenom"          envconfig:"STAKE_DENOM"`

	SweepInterval    time.Duration `yaml:"sweepInterval"    envconfig:"SWEEP_INTERVAL"`
	SweepParallelism int           `yaml:"sweepParallelism" envconfig:"SWEEP_PARALLELISM"`

	DefaultQuorum    int64   `yaml:"defaultQuorum"    envconfig:"DEFAULT_QUORUM"`
	DefaultThreshold float64 `yaml:"defaultThreshold" envconfig:"DEFAULT_THRESHOLD"`

	RateLimit   int           `yaml:"rateLimit"   envconfig:"RATE_LIMIT"`
	RateWindow  time.Duration `yaml:"rateWindow"  envconfig:"RATE_WINDOW"`
	CORSOrigins []string      `yaml:"corsOrigins" envconfig:"CORS_ORIGINS"`
	TLSCert     string        `yaml:"tlsCert"     envconfig:"TLS_CERT"`
	TLSKey      string        `yaml:"tlsKey"      envconfig:"TLS_KEY"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() Config {
	return Config{
		Env:              "production",
		Port:             "8080",
		RedisURL:         "redis://127.0.0.1:6379/0",
		ChallengeTTL:     15 * time.Minute,
		LedgerURL:        "http://127.0.0.1:1317",
		LedgerTimeout:    5 * time.Second,
		LedgerTxLimit:    50,
		LedgerCacheTTL:   3 * time.Second,
		AddressPrefix:    "axm",
		StakeDenom:       "uaxm",
		SweepParallelism: 4,
		DefaultQuorum:    1000,
		DefaultThreshold: 50,
		RateLimit:        120,
		RateWindow:       time.Minute,
		CORSOrigins:      []string{"http://localhost:3000"},
	}
}

// Load applies defaults, then the optional YAML file at path, then
// STAKEGATE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.VerificationAddress = strings.ToLower(strings.TrimSpace(c.VerificationAddress))
	c.AddressPrefix = strings.ToLower(strings.TrimSpace(c.AddressPrefix))
	c.LedgerURL = strings.TrimRight(c.LedgerURL, "/")
	if c.ChallengeSecret == "" {
		c.ChallengeSecret = c.JWTSecret
	}
	// Gateway calls stay in single-digit seconds.
	if c.LedgerTimeout < time.Second {
		c.LedgerTimeout = time.Second
	}
	if c.LedgerTimeout > 9*time.Second {
		c.LedgerTimeout = 9 * time.Second
	}
	if c.LedgerTxLimit <= 0 {
		c.LedgerTxLimit = 50
	}
	if c.SweepParallelism <= 0 {
		c.SweepParallelism = 1
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MySQLDSN == "" && c.SQLitePath == "" {
		errs = append(errs, errors.New("one of MYSQL_DSN or SQLITE_PATH is required"))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if len(c.ChallengeSecret) < 32 {
		errs = append(errs, errors.New("CHALLENGE_SECRET must be at least 32 bytes"))
	}
	if c.VerificationAddress == "" {
		errs = append(errs, errors.New("VERIFICATION_ADDRESS is required"))
	}
	if c.StakeDenom == "" {
		errs = append(errs, errors.New("STAKE_DENOM is required"))
	}
	if c.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("CHALLENGE_TTL must be positive"))
	}
	if c.DefaultThreshold <= 0 || c.DefaultThreshold > 100 {
		errs = append(errs, errors.New("DEFAULT_THRESHOLD must be in (0, 100]"))
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be positive when RATE_LIMIT is set"))
	}
	if c.DefaultQuorum < 0 {
		errs = append(errs, errors.New("DEFAULT_QUORUM must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) Development() bool {
	return c.Env == "development"
}
