package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Posting      PostingConfig      `mapstructure:"posting"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Internal     InternalConfig     `mapstructure:"internal"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type QueueConfig struct {
	Driver        string `mapstructure:"driver"` // amqp or memory
	URL           string `mapstructure:"url"`
	Name          string `mapstructure:"name"`
	MaxRedeliver  int    `mapstructure:"max_redeliver"`
}

type WorkerConfig struct {
	Count         int           `mapstructure:"count"`
	StageTimeout  time.Duration `mapstructure:"stage_timeout"`
	FetchParallel int           `mapstructure:"fetch_parallel"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type PostingConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type CapabilitiesConfig struct {
	SearchURL       string        `mapstructure:"search_url"`
	SearchRateLimit int           `mapstructure:"search_rate_limit"` // requests per minute
	ExtractURL      string        `mapstructure:"extract_url"`
	LLMBaseURL      string        `mapstructure:"llm_base_url"`
	LLMModel        string        `mapstructure:"llm_model"`
	LLMAPIKey       string        `mapstructure:"llm_api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type InternalConfig struct {
	Secret string `mapstructure:"secret"`
	APIURL string `mapstructure:"api_url"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "jobs.generate"
	}
	if c.Queue.MaxRedeliver == 0 {
		c.Queue.MaxRedeliver = 3
	}
	if c.Worker.Count == 0 {
		c.Worker.Count = 4
	}
	if c.Worker.StageTimeout == 0 {
		c.Worker.StageTimeout = 2 * time.Minute
	}
	if c.Worker.FetchParallel == 0 {
		c.Worker.FetchParallel = 4
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = time.Hour
	}
	if c.Posting.Interval == 0 {
		c.Posting.Interval = time.Minute
	}
	if c.Posting.BatchSize == 0 {
		c.Posting.BatchSize = 50
	}
	if c.Capabilities.Timeout == 0 {
		c.Capabilities.Timeout = 90 * time.Second
	}
	if c.Capabilities.SearchRateLimit == 0 {
		c.Capabilities.SearchRateLimit = 60
	}
}
