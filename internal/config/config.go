package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full startup configuration. It is loaded once in main() and
// passed by value into component constructors; nothing mutates it afterwards.
type Config struct {
	Audio  AudioConfig  `yaml:"audio"`
	ASR    ASRConfig    `yaml:"asr"`
	LLM    LLMConfig    `yaml:"llm"`
	Detect DetectConfig `yaml:"detect"`
	Alerts AlertsConfig `yaml:"alerts"`
	Web    WebConfig    `yaml:"web"`
	Log    LogConfig    `yaml:"log"`
}

type AudioConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Codec      string `yaml:"codec"` // pcm or opus
}

type ASRConfig struct {
	Engine             string `yaml:"engine"` // stream or block
	URL                string `yaml:"url"`
	ChunkMs            int    `yaml:"chunk_ms"`
	QueueSize          int    `yaml:"queue_size"`
	MaxReconnect       int    `yaml:"max_reconnect"`
	ReconnectBackoffMs int    `yaml:"reconnect_backoff_ms"`
	RequestTimeoutMs   int    `yaml:"request_timeout_ms"`
}

type LLMConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
	AudioModel string `yaml:"audio_model"`
}

type DetectConfig struct {
	Mode              string   `yaml:"mode"` // exact, semantic, intent, audio, dual
	Keywords          []string `yaml:"keywords"`
	CooldownSec       int      `yaml:"cooldown_sec"`
	Threshold         float64  `yaml:"threshold"`
	BufferMax         int      `yaml:"buffer_max"`
	BufferTail        int      `yaml:"buffer_tail"`
	PhraseCacheSize   int      `yaml:"phrase_cache_size"`
	EmbedBatchSize    int      `yaml:"embed_batch_size"`
	EmbedConcurrency  int      `yaml:"embed_concurrency"`
	IntentIntervalSec int      `yaml:"intent_interval_sec"`
	AudioWindowSec    int      `yaml:"audio_window_sec"`
	CodesFile         string   `yaml:"codes_file"` // spoken digit-code log, "off" disables
}

type AlertsConfig struct {
	SoundCommand string        `yaml:"sound_command"`
	SoundFile    string        `yaml:"sound_file"`
	Discord      DiscordConfig `yaml:"discord"`
}

type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

type WebConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML config at path, expanding ${ENV} references before
// parsing so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Audio.ListenAddr == "" {
		c.Audio.ListenAddr = ":8765"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.Codec == "" {
		c.Audio.Codec = "pcm"
	}
	if c.ASR.Engine == "" {
		c.ASR.Engine = "stream"
	}
	if c.ASR.ChunkMs == 0 {
		c.ASR.ChunkMs = 600
	}
	if c.ASR.QueueSize == 0 {
		c.ASR.QueueSize = 100
	}
	if c.ASR.MaxReconnect == 0 {
		c.ASR.MaxReconnect = 10
	}
	if c.ASR.ReconnectBackoffMs == 0 {
		c.ASR.ReconnectBackoffMs = 1000
	}
	if c.ASR.RequestTimeoutMs == 0 {
		c.ASR.RequestTimeoutMs = 15000
	}
	if c.Detect.Mode == "" {
		c.Detect.Mode = "exact"
	}
	if c.Detect.CooldownSec == 0 {
		c.Detect.CooldownSec = 5
	}
	if c.Detect.Threshold == 0 {
		c.Detect.Threshold = 0.65
	}
	if c.Detect.BufferMax == 0 {
		c.Detect.BufferMax = 500
	}
	if c.Detect.BufferTail == 0 {
		c.Detect.BufferTail = 200
	}
	if c.Detect.PhraseCacheSize == 0 {
		c.Detect.PhraseCacheSize = 300
	}
	if c.Detect.EmbedBatchSize == 0 {
		c.Detect.EmbedBatchSize = 10
	}
	if c.Detect.EmbedConcurrency == 0 {
		c.Detect.EmbedConcurrency = 4
	}
	if c.Detect.IntentIntervalSec == 0 {
		c.Detect.IntentIntervalSec = 3
	}
	if c.Detect.AudioWindowSec == 0 {
		c.Detect.AudioWindowSec = 4
	}
	if c.Detect.CodesFile == "" {
		c.Detect.CodesFile = "detected_codes.json"
	}
	if c.Web.ListenAddr == "" {
		c.Web.ListenAddr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the one legitimate startup hard failure: a missing or
// inconsistent configuration. Everything past this point recovers at runtime.
func (c *Config) Validate() error {
	if len(c.Detect.Keywords) == 0 {
		return fmt.Errorf("config: detect.keywords must not be empty")
	}
	switch c.Detect.Mode {
	case "exact", "semantic", "intent", "audio", "dual":
	default:
		return fmt.Errorf("config: unknown detect.mode %q", c.Detect.Mode)
	}
	switch c.ASR.Engine {
	case "stream", "block":
	default:
		return fmt.Errorf("config: unknown asr.engine %q", c.ASR.Engine)
	}
	if c.Detect.Mode != "audio" && c.ASR.URL == "" {
		return fmt.Errorf("config: asr.url is required for mode %q", c.Detect.Mode)
	}
	if c.Detect.Mode != "exact" && c.LLM.BaseURL == "" {
		return fmt.Errorf("config: llm.base_url is required for mode %q", c.Detect.Mode)
	}
	if c.Detect.Threshold < 0 || c.Detect.Threshold > 1 {
		return fmt.Errorf("config: detect.threshold %v out of range [0,1]", c.Detect.Threshold)
	}
	if c.Detect.BufferTail >= c.Detect.BufferMax {
		return fmt.Errorf("config: detect.buffer_tail must be smaller than detect.buffer_max")
	}
	if c.Audio.Codec != "pcm" && c.Audio.Codec != "opus" {
		return fmt.Errorf("config: unknown audio.codec %q", c.Audio.Codec)
	}
	return nil
}
