package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the struct that holds the configuration of the application
type Config struct {
	App      AppConfig      `json:"app"`
	Crawler  CrawlerConfig  `json:"crawler"`
	Download DownloadConfig `json:"download"`
	RabbitMq RabbitMQConfig `json:"rabbitmq"`
	Panel    PanelConfig    `json:"panel"`
}

type AppConfig struct {
	Name     string `json:"name"`
	LogLevel int    `json:"logLevel"`
	Env      string `json:"env"`
}

// CrawlerConfig drives the site-graph walk and the shared browser session.
type CrawlerConfig struct {
	StartURL      string `json:"startUrl"`
	TargetDir     string `json:"targetDir"`
	UserAgent     string `json:"userAgent"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	MaxItems      int    `json:"maxItems"`
	Retries       int    `json:"retries"`
	CreateFolders bool   `json:"createFolders"`
}

// DownloadConfig drives the per-video download pass.
type DownloadConfig struct {
	Enabled    bool   `json:"enabled"`
	ProbeSizes bool   `json:"probeSizes"`
	HardLinks  bool   `json:"hardLinks"`
	Timeout    int    `json:"timeout"` // seconds; also the stall window
	Language   string `json:"language"`
}

type RabbitMQConfig struct {
	URL              string     `json:"url"`
	Exchange         string     `json:"exchange"`
	Queue            QueueNames `json:"queue"`
	ReconnectRetries int        `json:"reconnectRetries"`
	ReconnectTimeout int        `json:"reconnectTimeout"`
}

type QueueNames struct {
	CrawlLogQueue string `json:"crawlLogQueue"`
	VideoLogQueue string `json:"videoLogQueue"`
}

type PanelConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Load config from config.json
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("app.name", "vimeograb")
	v.SetDefault("app.logLevel", 4)
	v.SetDefault("crawler.retries", 3)
	v.SetDefault("crawler.createFolders", true)
	v.SetDefault("download.enabled", true)
	v.SetDefault("download.probeSizes", true)
	v.SetDefault("download.timeout", 60)
	v.SetDefault("rabbitmq.exchange", "vimeograb")
	v.SetDefault("rabbitmq.queue.crawlLogQueue", "crawl_log")
	v.SetDefault("rabbitmq.queue.videoLogQueue", "video_log")
	v.SetDefault("panel.host", "0.0.0.0")
	v.SetDefault("panel.port", 8080)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override from environment variables if present
	if envURL := os.Getenv("RABBITMQ_URL"); envURL != "" {
		config.RabbitMq.URL = envURL
	}
	if envDir := os.Getenv("TARGET_DIR"); envDir != "" {
		config.Crawler.TargetDir = envDir
	}

	return &config, nil
}

// Get config for app
func (c *Config) GetAppConfig() *AppConfig {
	return &c.App
}

// Get config for the crawler
func (c *Config) GetCrawlerConfig() *CrawlerConfig {
	return &c.Crawler
}

// Get config for the downloader
func (c *Config) GetDownloadConfig() *DownloadConfig {
	return &c.Download
}

// Get config for the web panel
func (c *Config) GetPanelConfig() *PanelConfig {
	return &c.Panel
}

// Get config for RabbitMQ
func (c *Config) GetRabbitMQConfig() *RabbitMQConfig {
	return &c.RabbitMq
}
