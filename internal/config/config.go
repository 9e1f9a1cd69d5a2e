package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	WeChat WeChatConfig `mapstructure:"wechat"`
	AI     AIConfig     `mapstructure:"ai"`
	Engine EngineConfig `mapstructure:"engine"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"` // 公网访问地址，供AI后端下载附件
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	PublicDir      string        `mapstructure:"public_dir"`
}

type WeChatConfig struct {
	Token      string `mapstructure:"token"`
	AESKey     string `mapstructure:"aes_key"`
	CorpID     string `mapstructure:"corp_id"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type AIConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxBufferSize  int           `mapstructure:"max_buffer_size"`
	CacheTimeout   time.Duration `mapstructure:"cache_timeout"`
}

type EngineConfig struct {
	CoalesceWindow  time.Duration `mapstructure:"coalesce_window"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`    // 轮询时的放弃阈值
	SessionMaxAge   time.Duration `mapstructure:"session_max_age"` // 清扫器的绝对上限
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxFileAge      time.Duration `mapstructure:"max_file_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var cfg *Config

func setDefaults() {
	viper.SetDefault("server.port", 3002)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.max_header_bytes", 1<<20)
	viper.SetDefault("server.public_dir", "./public")

	viper.SetDefault("ai.request_timeout", 60*time.Second)
	viper.SetDefault("ai.retry_attempts", 3)
	viper.SetDefault("ai.retry_delay", time.Second)
	viper.SetDefault("ai.max_buffer_size", 1<<20)
	viper.SetDefault("ai.cache_timeout", 5*time.Minute)

	viper.SetDefault("engine.coalesce_window", 2*time.Second)
	viper.SetDefault("engine.poll_timeout", 15*time.Minute)
	viper.SetDefault("engine.session_max_age", 20*time.Minute)
	viper.SetDefault("engine.cleanup_interval", 5*time.Minute)
	viper.SetDefault("engine.max_file_age", 5*time.Minute)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BOT")

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if !os.IsNotExist(err) {
					return nil, err
				}
			}
		}
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// 配置文件优先，缺失时回退环境变量
	applyEnvFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvFallbacks(c *Config) {
	if c.WeChat.Token == "" {
		c.WeChat.Token = os.Getenv("WECHAT_TOKEN")
	}
	if c.WeChat.AESKey == "" {
		c.WeChat.AESKey = os.Getenv("WECHAT_AES_KEY")
	}
	if c.WeChat.CorpID == "" {
		c.WeChat.CorpID = os.Getenv("WECHAT_CORP_ID")
	}
	if c.WeChat.WebhookURL == "" {
		c.WeChat.WebhookURL = os.Getenv("WECHAT_WEBHOOK_URL")
	}
	if c.AI.APIURL == "" {
		c.AI.APIURL = os.Getenv("AI_API_URL")
	}
	if c.AI.APIKey == "" {
		c.AI.APIKey = os.Getenv("AI_API_KEY")
	}
	if c.Server.Host == "" {
		c.Server.Host = os.Getenv("SERVER_HOST")
	}
}

// Validate 校验必须的回调凭证，缺失时直接拒绝启动
func (c *Config) Validate() error {
	if c.WeChat.Token == "" || c.WeChat.AESKey == "" || c.WeChat.CorpID == "" {
		return fmt.Errorf("missing required wechat credentials (token/aes_key/corp_id)")
	}
	if len(c.WeChat.AESKey) != 43 {
		return fmt.Errorf("wechat aes_key must be 43 characters, got %d", len(c.WeChat.AESKey))
	}
	return nil
}

func Get() *Config {
	return cfg
}
