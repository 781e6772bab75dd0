package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SLIDECAST_"

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	// TracesExporter is otlp, stdout or none. Empty picks otlp when an
	// endpoint is set and none otherwise.
	TracesExporter   string  `yaml:"traces_exporter"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	DocStore    DocStoreConfig  `yaml:"doc_store"`
	Cache       CacheConfig     `yaml:"cache"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Blob        BlobConfig      `yaml:"blob"`
	Broadcast   BroadcastConfig `yaml:"broadcast"`
	Ingest      IngestConfig    `yaml:"ingest"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	// NoticeStream is the JetStream stream that retains the latest broadcast
	// notice per course slot. Empty publishes notices on core NATS only.
	NoticeStream string `yaml:"notice_stream"`
}

type DocStoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CacheConfig struct {
	Backend  string `yaml:"backend"` // docstore, redis
	RedisURL string `yaml:"redis_url"`
	TTLHours int    `yaml:"ttl_hours"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, exec, ollama, openai, anthropic, gemini
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`

	APIKey string `yaml:"-"`
}

type TTSConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Mode         string            `yaml:"mode"` // mock, exec, openai
	Command      string            `yaml:"command"`
	Endpoint     string            `yaml:"endpoint"`
	Model        string            `yaml:"model"`
	DefaultVoice string            `yaml:"default_voice"`
	Voices       map[string]string `yaml:"voices"`
	ContentType  string            `yaml:"content_type"`
	TimeoutMS    int               `yaml:"timeout_ms"`

	APIKey string `yaml:"-"`
}

type BlobConfig struct {
	Mode          string `yaml:"mode"` // none, local, s3
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	PathStyle     bool   `yaml:"path_style"`
	PublicBaseURL string `yaml:"public_base_url"`
	AccessKeyID   string `yaml:"access_key_id"`
	LocalDir      string `yaml:"local_dir"`

	SecretAccessKey string `yaml:"-"`
}

type BroadcastConfig struct {
	MaxConcurrency    int      `yaml:"max_concurrency"`
	DefaultLanguages  []string `yaml:"default_languages"`
	FilenameSuffixes  []string `yaml:"filename_suffixes"`
	DefaultCourseSlot string   `yaml:"default_course_slot"`
	AudioPrefix       string   `yaml:"audio_prefix"`
}

type IngestConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Subject   string `yaml:"subject"`
	Queue     string `yaml:"queue"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "slidecast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			OTLPEndpoint:     "",
			OTLPInsecure:     true,
			PrometheusBind:   ":9091",
			TraceSampleRatio: 1,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			NoticeStream:   "SLIDECAST_BROADCAST",
		},
		DocStore: DocStoreConfig{
			Path: "./data/slidecast.db",
		},
		Cache: CacheConfig{
			Backend: "docstore",
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "gemini-2.5-flash-lite",
			MaxTokens:   256,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Enabled:      false,
			Mode:         "mock",
			Model:        "tts-1",
			DefaultVoice: "alloy",
			ContentType:  "audio/mpeg",
			TimeoutMS:    45000,
		},
		Blob: BlobConfig{
			Mode:     "none",
			LocalDir: "./data/blobs",
		},
		Broadcast: BroadcastConfig{
			MaxConcurrency:    5,
			DefaultLanguages:  []string{"en"},
			FilenameSuffixes:  DefaultFilenameSuffixes(),
			DefaultCourseSlot: "current",
			AudioPrefix:       "presentation_audio",
		},
		Ingest: IngestConfig{
			Enabled:   true,
			Subject:   "slidecast.slides.changed",
			Queue:     "slidecast-broadcasters",
			TimeoutMS: 180000,
		},
	}
}

// DefaultFilenameSuffixes lists the tokens export pipelines append to deck names.
func DefaultFilenameSuffixes() []string {
	return []string{
		"with_notes", "with-notes", "notes", "visual", "visuals", "enhanced",
		"en", "en-us", "zh", "zh-cn", "zh-tw", "yue", "yue-hk",
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Timeout converts a millisecond setting into a duration, using fallback when unset.
func Timeout(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "RUNTIME_NAME")
	overrideString(&cfg.Environment, "RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TracesExporter, "TELEMETRY_TRACES_EXPORTER")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Enabled, "BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "BUS_HOST")
	overrideInt(&cfg.Bus.Port, "BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.NoticeStream, "BUS_NOTICE_STREAM")
	overrideString(&cfg.DocStore.Path, "DOC_STORE_PATH")
	overrideBool(&cfg.DocStore.VacuumOnStart, "DOC_STORE_VACUUM_ON_START")
	overrideString(&cfg.Cache.Backend, "CACHE_BACKEND")
	overrideString(&cfg.Cache.RedisURL, "CACHE_REDIS_URL")
	overrideInt(&cfg.Cache.TTLHours, "CACHE_TTL_HOURS")
	overrideString(&cfg.LLM.Mode, "LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LLM_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "TTS_MODE")
	overrideString(&cfg.TTS.Command, "TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "TTS_ENDPOINT")
	overrideString(&cfg.TTS.Model, "TTS_MODEL")
	overrideString(&cfg.TTS.DefaultVoice, "TTS_DEFAULT_VOICE")
	overrideString(&cfg.TTS.ContentType, "TTS_CONTENT_TYPE")
	overrideInt(&cfg.TTS.TimeoutMS, "TTS_TIMEOUT_MS")
	overrideString(&cfg.Blob.Mode, "BLOB_MODE")
	overrideString(&cfg.Blob.Bucket, "BLOB_BUCKET")
	overrideString(&cfg.Blob.Region, "BLOB_REGION")
	overrideString(&cfg.Blob.Endpoint, "BLOB_ENDPOINT")
	overrideBool(&cfg.Blob.PathStyle, "BLOB_PATH_STYLE")
	overrideString(&cfg.Blob.PublicBaseURL, "BLOB_PUBLIC_BASE_URL")
	overrideString(&cfg.Blob.AccessKeyID, "BLOB_ACCESS_KEY_ID")
	overrideString(&cfg.Blob.LocalDir, "BLOB_LOCAL_DIR")
	overrideInt(&cfg.Broadcast.MaxConcurrency, "BROADCAST_MAX_CONCURRENCY")
	overrideStringSlice(&cfg.Broadcast.DefaultLanguages, "BROADCAST_DEFAULT_LANGUAGES")
	overrideStringSlice(&cfg.Broadcast.FilenameSuffixes, "BROADCAST_FILENAME_SUFFIXES")
	overrideString(&cfg.Broadcast.DefaultCourseSlot, "BROADCAST_DEFAULT_COURSE_SLOT")
	overrideString(&cfg.Broadcast.AudioPrefix, "BROADCAST_AUDIO_PREFIX")
	overrideBool(&cfg.Ingest.Enabled, "INGEST_ENABLED")
	overrideString(&cfg.Ingest.Subject, "INGEST_SUBJECT")
	overrideString(&cfg.Ingest.Queue, "INGEST_QUEUE")
	overrideInt(&cfg.Ingest.TimeoutMS, "INGEST_TIMEOUT_MS")
}

// Secrets are read from the environment only and never from the config file.
func loadSecrets(cfg *Config) {
	cfg.LLM.APIKey = os.Getenv(EnvPrefix + "LLM_API_KEY")
	cfg.TTS.APIKey = os.Getenv(EnvPrefix + "TTS_API_KEY")
	cfg.Blob.SecretAccessKey = os.Getenv(EnvPrefix + "BLOB_SECRET_ACCESS_KEY")
}

func overrideString(target *string, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.TracesExporter {
	case "", "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when traces_exporter=otlp")
		}
	default:
		return errors.New("telemetry.traces_exporter must be one of otlp|stdout|none")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.DocStore.Path == "" {
		return errors.New("doc_store.path must not be empty")
	}
	switch cfg.Cache.Backend {
	case "docstore":
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return errors.New("cache.redis_url must be set when backend=redis")
		}
	default:
		return errors.New("cache.backend must be one of docstore|redis")
	}
	if cfg.Cache.TTLHours < 0 {
		return errors.New("cache.ttl_hours must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "openai", "anthropic", "gemini":
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model must be set when mode=%s", cfg.LLM.Mode)
		}
	default:
		return errors.New("llm.mode must be one of mock|exec|ollama|openai|anthropic|gemini")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "openai":
		case "exec":
			if cfg.TTS.Command == "" {
				return errors.New("tts.command must be set when mode=exec")
			}
		default:
			return errors.New("tts.mode must be one of mock|exec|openai")
		}
		if cfg.TTS.ContentType == "" {
			return errors.New("tts.content_type must not be empty")
		}
	}
	switch cfg.Blob.Mode {
	case "none":
	case "local":
		if cfg.Blob.LocalDir == "" {
			return errors.New("blob.local_dir must be set when mode=local")
		}
	case "s3":
		if cfg.Blob.Bucket == "" || cfg.Blob.Region == "" {
			return errors.New("blob.bucket and blob.region must be set when mode=s3")
		}
	default:
		return errors.New("blob.mode must be one of none|local|s3")
	}
	if cfg.Broadcast.MaxConcurrency <= 0 {
		return errors.New("broadcast.max_concurrency must be >= 1")
	}
	if cfg.Broadcast.DefaultCourseSlot == "" {
		return errors.New("broadcast.default_course_slot must not be empty")
	}
	if cfg.Ingest.Enabled && cfg.Bus.Enabled && cfg.Ingest.Subject == "" {
		return errors.New("ingest.subject must not be empty when ingest is enabled")
	}
	return nil
}
