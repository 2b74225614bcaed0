package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	RunStore    RunStoreConfig    `yaml:"run_store"`
	Book        BookConfig        `yaml:"book"`
	Output      OutputConfig      `yaml:"output"`
	Synthesis   SynthConfig       `yaml:"synthesis"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Filters     []FilterSpec      `yaml:"filters"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

type BusConfig struct {
	Embedded         bool     `yaml:"embedded"`
	Port             int      `yaml:"port"`
	StoreDir         string   `yaml:"store_dir"`
	StartTimeoutMS   int      `yaml:"start_timeout_ms"`
	Servers          []string `yaml:"servers"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	Token            string   `yaml:"token"`
	TLSInsecure      bool     `yaml:"tls_insecure"`
	ConnectTimeoutMS int      `yaml:"connect_timeout_ms"`
}

type RunStoreConfig struct {
	Mode          string `yaml:"mode"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
}

type BookConfig struct {
	Path   string `yaml:"path"`
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
}

type OutputConfig struct {
	Folder   string `yaml:"folder"`
	EmitText bool   `yaml:"emit_text"`
}

type SynthConfig struct {
	Mode            string   `yaml:"mode"`
	Command         string   `yaml:"command"`
	Endpoint        string   `yaml:"endpoint"`
	Voice           string   `yaml:"voice"`
	Language        string   `yaml:"language"`
	SampleRate      int      `yaml:"sample_rate"`
	MaxChunkChars   int      `yaml:"max_chunk_chars"`
	BreakString     string   `yaml:"break_string"`
	Devices         []string `yaml:"devices"`
	PricePer1KChars float64  `yaml:"price_per_1k_chars"`
	MaxRetries      int      `yaml:"max_retries"`
}

type RecognitionConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Providers []RecogProvider `yaml:"providers"`
}

type RecogProvider struct {
	Mode      string `yaml:"mode"`
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
}

type FilterSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Pattern  string `yaml:"pattern"`
	Replace  string `yaml:"replace"`
	Manifest string `yaml:"manifest"`
}

type PipelineConfig struct {
	Workers             int  `yaml:"workers"`
	ChapterStart        int  `yaml:"chapter_start"`
	ChapterEnd          int  `yaml:"chapter_end"`
	Preview             bool `yaml:"preview"`
	NoPrompt            bool `yaml:"no_prompt"`
	JobTimeoutMS        int  `yaml:"job_timeout_ms"`
	HeartbeatIntervalMS int  `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int  `yaml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "narra-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:         true,
			Port:             4222,
			StoreDir:         "./data/nats",
			StartTimeoutMS:   5000,
			Servers:          []string{"nats://localhost:4222"},
			ConnectTimeoutMS: 2000,
		},
		RunStore: RunStoreConfig{
			Mode:          "persistent",
			Path:          "./data/narra-runs.db",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Book: BookConfig{
			Path: "./book",
		},
		Output: OutputConfig{
			Folder:   "./audiobook_output",
			EmitText: false,
		},
		Synthesis: SynthConfig{
			Mode:          "mock",
			Voice:         "af_heart",
			Language:      "en-US",
			SampleRate:    22050,
			MaxChunkChars: 3000,
			MaxRetries:    12,
		},
		Recognition: RecognitionConfig{
			Enabled:   false,
			Providers: []RecogProvider{{Mode: "mock"}},
		},
		Pipeline: PipelineConfig{
			Workers:             1,
			ChapterStart:        1,
			ChapterEnd:          -1,
			JobTimeoutMS:        0,
			HeartbeatIntervalMS: 2000,
			HeartbeatTimeoutMS:  6000,
		},
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARRA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "NARRA_BUS_STORE_DIR")
	overrideInt(&cfg.Bus.StartTimeoutMS, "NARRA_BUS_START_TIMEOUT_MS")
	overrideStringSlice(&cfg.Bus.Servers, "NARRA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeoutMS, "NARRA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.RunStore.Mode, "NARRA_RUN_STORE_MODE")
	overrideString(&cfg.RunStore.Path, "NARRA_RUN_STORE_PATH")
	overrideInt(&cfg.RunStore.RetentionDays, "NARRA_RUN_STORE_RETENTION_DAYS")
	overrideInt(&cfg.RunStore.MaxRuns, "NARRA_RUN_STORE_MAX_RUNS")
	overrideString(&cfg.Book.Path, "NARRA_BOOK_PATH")
	overrideString(&cfg.Book.ID, "NARRA_BOOK_ID")
	overrideString(&cfg.Book.Title, "NARRA_BOOK_TITLE")
	overrideString(&cfg.Book.Author, "NARRA_BOOK_AUTHOR")
	overrideString(&cfg.Output.Folder, "NARRA_OUTPUT_FOLDER")
	overrideBool(&cfg.Output.EmitText, "NARRA_OUTPUT_EMIT_TEXT")
	overrideString(&cfg.Synthesis.Mode, "NARRA_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "NARRA_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Endpoint, "NARRA_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.Voice, "NARRA_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Language, "NARRA_SYNTHESIS_LANGUAGE")
	overrideInt(&cfg.Synthesis.SampleRate, "NARRA_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.MaxChunkChars, "NARRA_SYNTHESIS_MAX_CHUNK_CHARS")
	overrideString(&cfg.Synthesis.BreakString, "NARRA_SYNTHESIS_BREAK_STRING")
	overrideStringSlice(&cfg.Synthesis.Devices, "NARRA_SYNTHESIS_DEVICES")
	overrideFloat(&cfg.Synthesis.PricePer1KChars, "NARRA_SYNTHESIS_PRICE_PER_1K_CHARS")
	overrideInt(&cfg.Synthesis.MaxRetries, "NARRA_SYNTHESIS_MAX_RETRIES")
	overrideBool(&cfg.Recognition.Enabled, "NARRA_RECOGNITION_ENABLED")
	overrideInt(&cfg.Pipeline.Workers, "NARRA_PIPELINE_WORKERS")
	overrideInt(&cfg.Pipeline.ChapterStart, "NARRA_PIPELINE_CHAPTER_START")
	overrideInt(&cfg.Pipeline.ChapterEnd, "NARRA_PIPELINE_CHAPTER_END")
	overrideBool(&cfg.Pipeline.Preview, "NARRA_PIPELINE_PREVIEW")
	overrideBool(&cfg.Pipeline.NoPrompt, "NARRA_PIPELINE_NO_PROMPT")
	overrideInt(&cfg.Pipeline.JobTimeoutMS, "NARRA_PIPELINE_JOB_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.HeartbeatIntervalMS, "NARRA_PIPELINE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Pipeline.HeartbeatTimeoutMS, "NARRA_PIPELINE_HEARTBEAT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.RunStore.Mode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("run_store.mode must be one of ephemeral|persistent")
	}
	if cfg.RunStore.Mode == "persistent" && cfg.RunStore.Path == "" {
		return errors.New("run_store.path must not be empty in persistent mode")
	}
	if cfg.RunStore.RetentionDays < 0 {
		return errors.New("run_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Book.Path == "" {
		return errors.New("book.path must not be empty")
	}
	if cfg.Output.Folder == "" {
		return errors.New("output.folder must not be empty")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("synthesis.mode must be one of mock|exec|http")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.Mode == "http" && cfg.Synthesis.Endpoint == "" {
		return errors.New("synthesis.endpoint must be set when mode=http")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.MaxChunkChars <= 0 {
		return errors.New("synthesis.max_chunk_chars must be positive")
	}
	if cfg.Synthesis.PricePer1KChars < 0 {
		return errors.New("synthesis.price_per_1k_chars must be >= 0")
	}
	if cfg.Recognition.Enabled {
		if len(cfg.Recognition.Providers) == 0 {
			return errors.New("recognition.providers must not be empty when recognition is enabled")
		}
		for i, p := range cfg.Recognition.Providers {
			switch p.Mode {
			case "mock", "exec", "off":
			default:
				return fmt.Errorf("recognition.providers[%d].mode must be one of mock|exec|off", i)
			}
			if p.Mode == "exec" && p.Command == "" {
				return fmt.Errorf("recognition.providers[%d].command must be set when mode=exec", i)
			}
		}
	}
	for i, f := range cfg.Filters {
		switch f.Type {
		case "regex":
			if f.Pattern == "" {
				return fmt.Errorf("filters[%d].pattern must be set for regex filters", i)
			}
		case "wasm":
			if f.Manifest == "" {
				return fmt.Errorf("filters[%d].manifest must be set for wasm filters", i)
			}
		default:
			return fmt.Errorf("filters[%d].type must be one of regex|wasm", i)
		}
	}
	if cfg.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be >= 1")
	}
	if cfg.Pipeline.ChapterStart < 1 {
		return errors.New("pipeline.chapter_start must be >= 1")
	}
	if cfg.Pipeline.ChapterEnd < -1 || cfg.Pipeline.ChapterEnd == 0 {
		return errors.New("pipeline.chapter_end must be -1 or >= 1")
	}
	if cfg.Pipeline.HeartbeatIntervalMS <= 0 {
		return errors.New("pipeline.heartbeat_interval_ms must be positive")
	}
	if cfg.Pipeline.HeartbeatTimeoutMS <= cfg.Pipeline.HeartbeatIntervalMS {
		return errors.New("pipeline.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	return nil
}
