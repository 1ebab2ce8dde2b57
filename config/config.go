// transcriber/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Fetch backends accepted by FETCH_BACKEND.
const (
	FetchBackendAuto  = "auto"
	FetchBackendHTTP  = "http"
	FetchBackendYtdlp = "ytdlp"
)

type Config struct {
	Port string `mapstructure:"PORT" validate:"required,numeric"`

	// Speech recognition
	WhisperModel     string `mapstructure:"WHISPER_MODEL" validate:"required"`
	WhisperBin       string `mapstructure:"WHISPER_BIN" validate:"required"`
	WhisperModelsDir string `mapstructure:"WHISPER_MODELS_DIR"`
	WhisperExtraArgs string `mapstructure:"WHISPER_EXTRA_ARGS"`
	Language         string `mapstructure:"LANGUAGE" validate:"required"`
	RecognizerSerial bool   `mapstructure:"RECOGNIZER_SERIAL"`

	// Audio extraction
	FFBin           string `mapstructure:"FF_BIN" validate:"required"`
	FFExtraArgs     string `mapstructure:"FF_EXTRA_ARGS"`
	AudioSampleRate int    `mapstructure:"AUDIO_SAMPLE_RATE" validate:"gte=8000"`
	AudioBitrate    string `mapstructure:"AUDIO_BITRATE" validate:"required"`

	// Media fetch
	FetchBackend    string        `mapstructure:"FETCH_BACKEND" validate:"oneof=auto http ytdlp"`
	YtdlpBin        string        `mapstructure:"YTDLP_BIN"`
	FetchTimeout    time.Duration `mapstructure:"FETCH_TIMEOUT" validate:"gt=0"`
	MaxDownloadSize int64         `mapstructure:"MAX_DOWNLOAD_SIZE" validate:"gt=0"`

	// Task lifecycle
	MaxTasks       int           `mapstructure:"MAX_TASKS" validate:"gte=1"`
	MaxInFlight    int           `mapstructure:"MAX_IN_FLIGHT" validate:"gte=1,ltefield=MaxTasks"`
	MaxConcurrency int           `mapstructure:"MAX_CONCURRENCY" validate:"gte=1"`
	EvictInFlight  bool          `mapstructure:"EVICT_IN_FLIGHT"`
	TaskRetention  time.Duration `mapstructure:"TASK_RETENTION" validate:"gte=0"`

	// Admission throttle, zero disables a check
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU" validate:"gte=0,lte=100"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM" validate:"gte=0"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK" validate:"gte=0"`

	WorkDir   string `mapstructure:"WORK_DIR"`
	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=text json"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "10000")
	vp.SetDefault("WHISPER_MODEL", "tiny")
	vp.SetDefault("WHISPER_BIN", "whisper-cli")
	vp.SetDefault("WHISPER_MODELS_DIR", "./models")
	vp.SetDefault("WHISPER_EXTRA_ARGS", "")
	vp.SetDefault("LANGUAGE", "es")
	vp.SetDefault("RECOGNIZER_SERIAL", true)
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FF_EXTRA_ARGS", "")
	vp.SetDefault("AUDIO_SAMPLE_RATE", 16000)
	vp.SetDefault("AUDIO_BITRATE", "32k")
	vp.SetDefault("FETCH_BACKEND", FetchBackendAuto)
	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("FETCH_TIMEOUT", "2m")
	vp.SetDefault("MAX_DOWNLOAD_SIZE", "50MB")
	vp.SetDefault("MAX_TASKS", 10)
	vp.SetDefault("MAX_IN_FLIGHT", 10)
	vp.SetDefault("MAX_CONCURRENCY", 1)
	vp.SetDefault("EVICT_IN_FLIGHT", false)
	vp.SetDefault("TASK_RETENTION", "1h")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("WORK_DIR", "")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "text")

	vp.SetConfigName("transcriber_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/transcriber/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("TRANSCRIBER")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints, including MAX_IN_FLIGHT <= MAX_TASKS so an
// admitted task always has room in the registry.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
