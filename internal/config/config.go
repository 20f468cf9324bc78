package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete mirror service configuration.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Video   VideoConfig   `yaml:"video"`
	Channel ChannelConfig `yaml:"channel"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	Device  DeviceConfig  `yaml:"device"`
	Stats   bool          `yaml:"stats"`
}

type ListenConfig struct {
	Host          string `yaml:"host"`
	VideoPort     int    `yaml:"video_port"`
	CommandPort   int    `yaml:"command_port"`
	AudioPort     int    `yaml:"audio_port"`
	WebSocketAddr string `yaml:"websocket_addr"` // empty disables the command bridge
}

// VideoConfig holds the handshake defaults and the encoder template.
type VideoConfig struct {
	Bitrate          int           `yaml:"bitrate"`
	MaxSize          int           `yaml:"max_size"`
	FrameRate        int           `yaml:"frame_rate"`
	KeyframeInterval time.Duration `yaml:"keyframe_interval"`
	DisplayID        int           `yaml:"display_id"`
}

// ChannelConfig sizes the outbound packet queue shared by video and audio.
type ChannelConfig struct {
	Capacity      int           `yaml:"capacity"`
	FlushBatch    int           `yaml:"flush_batch"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type SessionConfig struct {
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	WatcherReadyTimeout time.Duration `yaml:"watcher_ready_timeout"`
	JoinTimeout         time.Duration `yaml:"join_timeout"`
}

type AudioConfig struct {
	Codec     string `yaml:"codec"`      // pcm, opus
	RelayAddr string `yaml:"relay_addr"` // empty disables the udp relay strategy
	Pulse     bool   `yaml:"pulse"`
}

type DeviceConfig struct {
	Serial       string        `yaml:"serial"`
	Local        bool          `yaml:"local"`
	ADB          string        `yaml:"adb"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	ClipboardGet string        `yaml:"clipboard_get"`
	ClipboardSet string        `yaml:"clipboard_set"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:        "0.0.0.0",
			VideoPort:   8888,
			CommandPort: 8889,
			AudioPort:   8890,
		},
		Video: VideoConfig{
			Bitrate:          8_000_000,
			MaxSize:          1080,
			FrameRate:        60,
			KeyframeInterval: time.Second,
		},
		Channel: ChannelConfig{
			Capacity:      100,
			FlushBatch:    10,
			FlushInterval: 100 * time.Millisecond,
		},
		Session: SessionConfig{
			HandshakeTimeout:    500 * time.Millisecond,
			PollInterval:        100 * time.Millisecond,
			WatcherReadyTimeout: 2 * time.Second,
			JoinTimeout:         time.Second,
		},
		Audio: AudioConfig{
			Codec: "pcm",
			Pulse: true,
		},
		Device: DeviceConfig{
			ADB:          "adb",
			ProbeTimeout: 3 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func Validate(cfg *Config) error {
	ports := []struct {
		name string
		v    int
	}{
		{"video_port", cfg.Listen.VideoPort},
		{"command_port", cfg.Listen.CommandPort},
		{"audio_port", cfg.Listen.AudioPort},
	}
	seen := make(map[int]string)
	for _, p := range ports {
		if p.v <= 0 || p.v > 65535 {
			return fmt.Errorf("listen.%s must be in 1..65535, got %d", p.name, p.v)
		}
		if other, ok := seen[p.v]; ok {
			return fmt.Errorf("listen.%s and listen.%s share port %d", other, p.name, p.v)
		}
		seen[p.v] = p.name
	}

	if cfg.Video.Bitrate <= 0 {
		return fmt.Errorf("video.bitrate must be > 0, got %d", cfg.Video.Bitrate)
	}
	if cfg.Video.MaxSize <= 0 {
		return fmt.Errorf("video.max_size must be > 0, got %d", cfg.Video.MaxSize)
	}
	if cfg.Video.FrameRate <= 0 {
		return fmt.Errorf("video.frame_rate must be > 0, got %d", cfg.Video.FrameRate)
	}
	if cfg.Video.DisplayID < 0 {
		return fmt.Errorf("video.display_id must be >= 0, got %d", cfg.Video.DisplayID)
	}

	if cfg.Channel.Capacity <= 0 {
		return fmt.Errorf("channel.capacity must be > 0, got %d", cfg.Channel.Capacity)
	}
	if cfg.Channel.FlushBatch <= 0 {
		return fmt.Errorf("channel.flush_batch must be > 0, got %d", cfg.Channel.FlushBatch)
	}

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"channel.flush_interval", cfg.Channel.FlushInterval},
		{"session.handshake_timeout", cfg.Session.HandshakeTimeout},
		{"session.poll_interval", cfg.Session.PollInterval},
		{"session.watcher_ready_timeout", cfg.Session.WatcherReadyTimeout},
		{"session.join_timeout", cfg.Session.JoinTimeout},
	}
	for _, d := range durations {
		if d.v <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", d.name, d.v)
		}
	}

	switch cfg.Audio.Codec {
	case "pcm", "opus":
	default:
		return fmt.Errorf("audio.codec must be pcm or opus, got %q", cfg.Audio.Codec)
	}
	return nil
}

// Addr joins the listen host with port.
func (c *Config) Addr(port int) string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(port))
}
