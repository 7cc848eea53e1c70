// config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Redis
	RedisURL       string `mapstructure:"redis_url"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	ResponseStream string `mapstructure:"redis_response_stream"`
	RequestStream  string `mapstructure:"redis_request_stream"`
	ConsumerGroup  string `mapstructure:"redis_consumer_group"`

	// RethinkDB
	RethinkDBURL string `mapstructure:"rethinkdb_url"`
	DBName       string `mapstructure:"db_name"`
	ModelTable   string `mapstructure:"model_table"`

	// Server
	ServerPort string `mapstructure:"server_port"`
	HealthPort string `mapstructure:"health_port"`

	// Pipeline
	HolidayCountry string `mapstructure:"holiday_country"`

	// Schedules
	RequestInterval time.Duration `mapstructure:"request_interval"`
	ReloadInterval  time.Duration `mapstructure:"reload_interval"`
	ModelMaxAge     time.Duration `mapstructure:"model_max_age"`
	TrainTimeout    time.Duration `mapstructure:"train_timeout"`
}

func Load() (*Config, error) {
	viper.SetDefault("redis_url", "localhost:6379")
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("redis_response_stream", "delay-data-responses")
	viper.SetDefault("redis_request_stream", "delay-data-requests")
	viper.SetDefault("redis_consumer_group", "delay-predictor")
	viper.SetDefault("rethinkdb_url", "localhost:28015")
	viper.SetDefault("db_name", "delay_predictor")
	viper.SetDefault("model_table", "prediction_models")
	viper.SetDefault("server_port", ":7000")
	viper.SetDefault("health_port", ":7001")
	viper.SetDefault("holiday_country", "HU")
	viper.SetDefault("request_interval", 2*time.Hour)
	viper.SetDefault("reload_interval", 2*time.Hour)
	viper.SetDefault("model_max_age", 14*24*time.Hour)
	viper.SetDefault("train_timeout", 30*time.Minute)

	// Optional config file; defaults plus environment cover the usual
	// deployment.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/delay-predictor/")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}
