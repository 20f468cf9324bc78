package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nlmirror.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Listen.VideoPort != 8888 || cfg.Listen.CommandPort != 8889 || cfg.Listen.AudioPort != 8890 {
		t.Errorf("ports = %d/%d/%d", cfg.Listen.VideoPort, cfg.Listen.CommandPort, cfg.Listen.AudioPort)
	}
	if cfg.Video.Bitrate != 8_000_000 || cfg.Video.MaxSize != 1080 {
		t.Errorf("video defaults = %+v", cfg.Video)
	}
	if cfg.Channel.Capacity != 100 || cfg.Channel.FlushBatch != 10 {
		t.Errorf("channel defaults = %+v", cfg.Channel)
	}
	if cfg.Session.HandshakeTimeout != 500*time.Millisecond {
		t.Errorf("handshake timeout = %v", cfg.Session.HandshakeTimeout)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Audio.Codec != "pcm" {
		t.Errorf("codec = %q", cfg.Audio.Codec)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
listen:
  video_port: 9000
video:
  bitrate: 2000000
  keyframe_interval: 2s
session:
  poll_interval: 250ms
audio:
  codec: opus
device:
  serial: emulator-5554
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen.VideoPort != 9000 {
		t.Errorf("video port = %d", cfg.Listen.VideoPort)
	}
	if cfg.Listen.CommandPort != 8889 {
		t.Errorf("command port lost its default: %d", cfg.Listen.CommandPort)
	}
	if cfg.Video.Bitrate != 2_000_000 || cfg.Video.MaxSize != 1080 {
		t.Errorf("video = %+v", cfg.Video)
	}
	if cfg.Video.KeyframeInterval != 2*time.Second {
		t.Errorf("keyframe interval = %v", cfg.Video.KeyframeInterval)
	}
	if cfg.Session.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Session.PollInterval)
	}
	if cfg.Audio.Codec != "opus" || cfg.Device.Serial != "emulator-5554" {
		t.Errorf("audio/device = %+v %+v", cfg.Audio, cfg.Device)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := Load(writeFile(t, "listen: [")); err == nil {
		t.Error("bad yaml: expected error")
	}
	_, err := Load(writeFile(t, "audio:\n  codec: aac\n"))
	if err == nil || !strings.Contains(err.Error(), "audio.codec") {
		t.Errorf("unknown codec: err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero port", func(c *Config) { c.Listen.AudioPort = 0 }, "audio_port"},
		{"port range", func(c *Config) { c.Listen.VideoPort = 70000 }, "video_port"},
		{"shared port", func(c *Config) { c.Listen.CommandPort = 8888 }, "share port"},
		{"bitrate", func(c *Config) { c.Video.Bitrate = -1 }, "video.bitrate"},
		{"max size", func(c *Config) { c.Video.MaxSize = 0 }, "video.max_size"},
		{"frame rate", func(c *Config) { c.Video.FrameRate = 0 }, "video.frame_rate"},
		{"display id", func(c *Config) { c.Video.DisplayID = -2 }, "video.display_id"},
		{"capacity", func(c *Config) { c.Channel.Capacity = 0 }, "channel.capacity"},
		{"flush batch", func(c *Config) { c.Channel.FlushBatch = 0 }, "channel.flush_batch"},
		{"join timeout", func(c *Config) { c.Session.JoinTimeout = 0 }, "session.join_timeout"},
		{"codec", func(c *Config) { c.Audio.Codec = "" }, "audio.codec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.Addr(8888); got != "0.0.0.0:8888" {
		t.Errorf("Addr = %q", got)
	}
	cfg.Listen.Host = "::1"
	if got := cfg.Addr(8889); got != "[::1]:8889" {
		t.Errorf("Addr = %q", got)
	}
}
