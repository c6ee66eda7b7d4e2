package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	// Optional document sinks. Empty URL disables the sink.
	DatabaseURL   string `env:"DATABASE_URL"`
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"voxdoc"`
	MQTTTopicBase string `env:"MQTT_TOPIC_BASE" envDefault:"voxdoc"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	// Connectivity monitor.
	ProbeURL      string        `env:"CONNECTIVITY_PROBE_URL" envDefault:"https://clients3.google.com/generate_204"`
	ProbeInterval time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"5s"`
	ProbeTimeout  time.Duration `env:"CONNECTIVITY_PROBE_TIMEOUT" envDefault:"2s"`
	PrivacyMode   bool          `env:"PRIVACY_MODE" envDefault:"false"`

	// Network (cloud) speech-to-text engine.
	CloudSTTLanguage    string `env:"CLOUD_STT_LANGUAGE" envDefault:"en-US"`
	CloudSTTSampleRate  int    `env:"CLOUD_STT_SAMPLE_RATE" envDefault:"16000"`
	CloudSTTCredentials string `env:"CLOUD_STT_CREDENTIALS_FILE"`

	// Local speech-to-text engine (localhost recognizer server).
	LocalSTTURL      string        `env:"LOCAL_STT_URL" envDefault:"http://127.0.0.1:8178/transcribe"`
	LocalSTTModelDir string        `env:"LOCAL_STT_MODEL_DIR" envDefault:"./models/recognizer"`
	LocalSTTTimeout  time.Duration `env:"LOCAL_STT_TIMEOUT" envDefault:"30s"`
	LocalSTTFlushMs  int           `env:"LOCAL_STT_FLUSH_MS" envDefault:"3000"`

	// Language-model service.
	LLMBaseURL     string        `env:"LLM_BASE_URL" envDefault:"http://127.0.0.1:11434"`
	LLMModel       string        `env:"LLM_MODEL" envDefault:"llama3.1:8b"`
	LLMTemperature float64       `env:"LLM_TEMPERATURE" envDefault:"0.3"`
	LLMMaxTokens   int           `env:"LLM_MAX_TOKENS" envDefault:"1024"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"20s"`

	// Document generation defaults.
	GenerateDiagrams bool   `env:"GENERATE_DIAGRAMS" envDefault:"true"`
	TargetAudience   string `env:"TARGET_AUDIENCE" envDefault:"general"`
	DocumentStyle    string `env:"DOCUMENT_STYLE" envDefault:"report"`
	MaxSectionWords  int    `env:"MAX_SECTION_WORDS" envDefault:"350"`

	AudioQueueSize int `env:"AUDIO_QUEUE_SIZE" envDefault:"256"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	LLMBaseURL    string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.LLMBaseURL != "" {
		cfg.LLMBaseURL = overrides.LLMBaseURL
	}

	return cfg, nil
}
