package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	// HostFinal serves the research-grade ("final") IMERG run.
	HostFinal = "arthurhouftps.pps.eosdis.nasa.gov"
	// HostEarly serves the near-real-time early and late runs. Its directory
	// layout differs and is not supported by the path builder.
	HostEarly = "jsimpsonftps.pps.eosdis.nasa.gov"

	MaxWorkers = 4

	EnvUsername  = "IMERG_USERNAME"
	EnvPassword  = "IMERG_PASSWORD"
	EnvRedisURL  = "IMERG_REDIS_URL"
	EnvOutputDir = "IMERG_OUTPUT_DIR"

	defaultDirPrefix        = "ftp://" + HostFinal + "/sm/730/gpmdata"
	defaultDirSuffix        = "/gis/"
	defaultDailyPrefix      = "3B-DAY-GIS.MS.MRG.3IMERG."
	defaultHalfHourlyPrefix = "3B-HHR-GIS.MS.MRG.3IMERG."
	defaultMonthlyPrefix    = "3B-MO-GIS.MS.MRG.3IMERG."
	defaultFileTime         = "-S000000-E235959"
	defaultFileVersion      = "V07B"
	defaultFileExtension    = "tif"
	defaultOutputDir        = "."
	defaultWorkers          = 2
	defaultTimeout          = 5 * time.Minute
	defaultDialTimeout      = 30 * time.Second
	defaultLedgerKeyPrefix  = "imerg"
	defaultMetricsJob       = "imergfetch"
	defaultLogLevel         = LogLevelInfo
	defaultImplicitTLSPort  = "990"
	defaultExplicitTLSPort  = "21"
)

// Naming holds the pieces of the archive file naming convention. It is passed
// by value; the zero value is not usable, call DefaultNaming.
type Naming struct {
	DirPrefix        string `yaml:"dir_prefix"`
	DirSuffix        string `yaml:"dir_suffix"`
	FilePrefix       string `yaml:"file_prefix"`
	HalfHourlyPrefix string `yaml:"half_hourly_prefix"`
	MonthlyPrefix    string `yaml:"monthly_prefix"`
	FileTime         string `yaml:"file_time"`
	FileVersion      string `yaml:"file_version"`
	FileExtension    string `yaml:"file_extension"`
}

func DefaultNaming() Naming {
	return Naming{
		DirPrefix:        defaultDirPrefix,
		DirSuffix:        defaultDirSuffix,
		FilePrefix:       defaultDailyPrefix,
		HalfHourlyPrefix: defaultHalfHourlyPrefix,
		MonthlyPrefix:    defaultMonthlyPrefix,
		FileTime:         defaultFileTime,
		FileVersion:      defaultFileVersion,
		FileExtension:    defaultFileExtension,
	}
}

// Credentials for the archive login. PPS issues e-mail addresses as both
// user name and password, so they always contain '@'.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

func (c Credentials) String() string {
	if c.Password == "" {
		return c.Username
	}

	return c.Username + ":***"
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("password_set", c.Password != ""),
	)
}

type FTPConfig struct {
	ImplicitTLS        bool          `yaml:"implicit_tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	Debug              bool          `yaml:"debug"`
}

// DefaultPort is used when the archive URL carries no port.
func (c *FTPConfig) DefaultPort() string {
	if c.ImplicitTLS {
		return defaultImplicitTLSPort
	}

	return defaultExplicitTLSPort
}

type DownloadConfig struct {
	OutputDir       string        `yaml:"output_dir"`
	Workers         int           `yaml:"workers"`
	Timeout         time.Duration `yaml:"timeout"`
	ContinueOnError bool          `yaml:"continue_on_error"`
	SkipExisting    bool          `yaml:"skip_existing"`
}

type LedgerConfig struct {
	RedisURL  string        `yaml:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix"`
	RecordTTL time.Duration `yaml:"record_ttl"`
}

func (c *LedgerConfig) Enabled() bool {
	return c.RedisURL != ""
}

type ReportConfig struct {
	Dir string `yaml:"dir"`
}

func (c *ReportConfig) Enabled() bool {
	return c.Dir != ""
}

// MetricsConfig controls run metrics. Textfile is meant for the node_exporter
// textfile collector and must end in .prom.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
	PushURL  string `yaml:"push_url"`
	Job      string `yaml:"job"`
	Instance string `yaml:"instance"`
}

func (c *MetricsConfig) Enabled() bool {
	return c.Textfile != "" || c.PushURL != ""
}

type Config struct {
	LogLevel       string         `yaml:"log_level"`
	Naming         Naming         `yaml:"naming"`
	Credentials    Credentials    `yaml:"credentials"`
	FTPConfig      FTPConfig      `yaml:"ftp"`
	DownloadConfig DownloadConfig `yaml:"download"`
	LedgerConfig   LedgerConfig   `yaml:"ledger"`
	ReportConfig   ReportConfig   `yaml:"report"`
	MetricsConfig  MetricsConfig  `yaml:"metrics"`
}

// SetDefaults fills every empty field with its default. Credentials have none.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	def := DefaultNaming()
	setString(&c.Naming.DirPrefix, def.DirPrefix)
	setString(&c.Naming.DirSuffix, def.DirSuffix)
	setString(&c.Naming.FilePrefix, def.FilePrefix)
	setString(&c.Naming.HalfHourlyPrefix, def.HalfHourlyPrefix)
	setString(&c.Naming.MonthlyPrefix, def.MonthlyPrefix)
	setString(&c.Naming.FileTime, def.FileTime)
	setString(&c.Naming.FileVersion, def.FileVersion)
	setString(&c.Naming.FileExtension, def.FileExtension)

	if c.FTPConfig.DialTimeout == 0 {
		c.FTPConfig.DialTimeout = defaultDialTimeout
	}

	setString(&c.DownloadConfig.OutputDir, defaultOutputDir)
	if c.DownloadConfig.Workers == 0 {
		c.DownloadConfig.Workers = defaultWorkers
	}
	if c.DownloadConfig.Timeout == 0 {
		c.DownloadConfig.Timeout = defaultTimeout
	}

	setString(&c.LedgerConfig.KeyPrefix, defaultLedgerKeyPrefix)
	setString(&c.MetricsConfig.Job, defaultMetricsJob)
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}

	if w := c.DownloadConfig.Workers; w < 1 || w > MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d, got %d", MaxWorkers, w)
	}

	if c.DownloadConfig.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if f := c.MetricsConfig.Textfile; f != "" && !strings.HasSuffix(f, ".prom") {
		return fmt.Errorf("metrics textfile must end in .prom: %s", f)
	}

	if strings.Contains(c.Naming.DirPrefix, "@") {
		return fmt.Errorf("dir_prefix must not contain credentials")
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	}

	return slog.LevelInfo
}

// Load reads the YAML file at path (skipped when path is empty), then the
// dotenv file at envFile (skipped when missing), then applies IMERG_*
// environment variables on top.
func Load(path, envFile string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}

		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cannot load env file %s: %w", envFile, err)
		}
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func MustLoad(path, envFile string) *Config {
	cfg, err := Load(path, envFile)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvUsername); ok {
		c.Credentials.Username = v
	}
	if v, ok := os.LookupEnv(EnvPassword); ok {
		c.Credentials.Password = v
	}
	if v, ok := os.LookupEnv(EnvRedisURL); ok {
		c.LedgerConfig.RedisURL = v
	}
	if v, ok := os.LookupEnv(EnvOutputDir); ok {
		c.DownloadConfig.OutputDir = v
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
