package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Database struct {
		URL string
	}
	Auth struct {
		TokenSecret string
	}
	Buffer struct {
		FlushSize        int
		FlushIntervalSec int
	}
	Baseline struct {
		Window        string
		ValidityHours int
		MinSamples    int
	}
	Recognizer struct {
		URL          string
		APIKey       string
		Language     string
		SampleRateHz int
	}
	Detect struct {
		SweepIntervalSec int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("buffer.flush_size", 100)
	v.SetDefault("buffer.flush_interval_sec", 5)

	v.SetDefault("baseline.window", "7 days")
	v.SetDefault("baseline.validity_hours", 24)
	v.SetDefault("baseline.min_samples", 100)

	v.SetDefault("recognizer.language", "en-US")
	v.SetDefault("recognizer.sample_rate_hz", 16000)

	// Sweep disabled unless configured
	v.SetDefault("detect.sweep_interval_sec", 0)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("database.url", "DATABASE_URL")

	v.BindEnv("auth.token_secret", "AUTH_TOKEN_SECRET")

	v.BindEnv("buffer.flush_size", "METRICS_FLUSH_SIZE")
	v.BindEnv("buffer.flush_interval_sec", "METRICS_FLUSH_INTERVAL_SEC")

	v.BindEnv("baseline.window", "BASELINE_WINDOW")
	v.BindEnv("baseline.validity_hours", "BASELINE_VALIDITY_HOURS")
	v.BindEnv("baseline.min_samples", "BASELINE_MIN_SAMPLES")

	v.BindEnv("recognizer.url", "RECOGNIZER_WS_URL")
	v.BindEnv("recognizer.api_key", "RECOGNIZER_API_KEY")
	v.BindEnv("recognizer.language", "RECOGNIZER_LANGUAGE")
	v.BindEnv("recognizer.sample_rate_hz", "RECOGNIZER_SAMPLE_RATE_HZ")

	v.BindEnv("detect.sweep_interval_sec", "DETECT_SWEEP_INTERVAL_SEC")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Database.URL = v.GetString("database.url")

	c.Auth.TokenSecret = v.GetString("auth.token_secret")

	c.Buffer.FlushSize = v.GetInt("buffer.flush_size")
	c.Buffer.FlushIntervalSec = v.GetInt("buffer.flush_interval_sec")

	c.Baseline.Window = v.GetString("baseline.window")
	c.Baseline.ValidityHours = v.GetInt("baseline.validity_hours")
	c.Baseline.MinSamples = v.GetInt("baseline.min_samples")

	c.Recognizer.URL = v.GetString("recognizer.url")
	c.Recognizer.APIKey = v.GetString("recognizer.api_key")
	c.Recognizer.Language = v.GetString("recognizer.language")
	c.Recognizer.SampleRateHz = v.GetInt("recognizer.sample_rate_hz")

	c.Detect.SweepIntervalSec = v.GetInt("detect.sweep_interval_sec")

	log.Printf("config loaded: port=%s flush_size=%d baseline_window=%q", c.Server.Port, c.Buffer.FlushSize, c.Baseline.Window)
	return c
}

func toString(v any) string { return fmt.Sprint(v) }
