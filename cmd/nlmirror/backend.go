package main

import (
	"log"

	"nlmirror/internal/android"
	"nlmirror/internal/audio"
	"nlmirror/internal/command"
	"nlmirror/internal/config"
	"nlmirror/internal/diag"
	"nlmirror/internal/input"
	"nlmirror/internal/packet"
	"nlmirror/internal/session"
	"nlmirror/internal/tasks"
	"nlmirror/internal/types"
	"nlmirror/internal/watcher"
	"nlmirror/internal/wire"
)

// backend wires one device's capabilities into the session, audio and
// command services.
type backend struct {
	device   *android.Device
	sessions *session.Manager
	audio    *audio.Manager
	commands *command.Dispatcher
	tasks    *tasks.Runner
}

func newBackend(cfg *config.Config) *backend {
	dev := android.NewDevice(android.Options{
		Shell: android.ShellOptions{
			Local:  cfg.Device.Local,
			ADB:    cfg.Device.ADB,
			Serial: cfg.Device.Serial,
		},
		ProbeTimeout: cfg.Device.ProbeTimeout,
		ClipboardGet: cfg.Device.ClipboardGet,
		ClipboardSet: cfg.Device.ClipboardSet,
	})
	scaler := input.NewScaler()
	runner := tasks.NewRunner()

	channel := packet.Options{
		Capacity:      cfg.Channel.Capacity,
		FlushBatch:    cfg.Channel.FlushBatch,
		FlushInterval: cfg.Channel.FlushInterval,
	}

	sessions := session.NewManager(session.Config{
		Display:  dev.Display,
		Encoders: dev.Recorder,
		Capture:  dev.Privileged,
		Scaler:   scaler,
		Encoder: types.EncoderConfig{
			FrameRate:        cfg.Video.FrameRate,
			KeyframeInterval: cfg.Video.KeyframeInterval,
			DisplayID:        cfg.Video.DisplayID,
		},
		Handshake: wire.Handshake{
			Bitrate: cfg.Video.Bitrate,
			MaxSize: cfg.Video.MaxSize,
		},
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		PollInterval:     cfg.Session.PollInterval,
		JoinTimeout:      cfg.Session.JoinTimeout,
		Channel:          channel,
		Watcher: watcher.Options{
			PollInterval: cfg.Session.PollInterval,
			ReadyTimeout: cfg.Session.WatcherReadyTimeout,
		},
		Stats: cfg.Stats,
	})

	audioMgr := audio.NewManager(audioStrategies(cfg, dev), audio.Options{
		Codec:       cfg.Audio.Codec,
		Channel:     channel,
		JoinTimeout: cfg.Session.JoinTimeout,
	})

	commands := command.NewDispatcher(command.Deps{
		Input:       dev.Input,
		Clipboard:   dev.Clipboard,
		Location:    dev.Location,
		Diagnostics: diag.New(dev.Shell, diag.Options{}),
		Power:       dev.Privileged,
		Scaler:      scaler,
		Tasks:       runner,
	})

	return &backend{
		device:   dev,
		sessions: sessions,
		audio:    audioMgr,
		commands: commands,
		tasks:    runner,
	}
}

// audioStrategies lists capture paths in preference order.
func audioStrategies(cfg *config.Config, dev *android.Device) []audio.Strategy {
	strategies := []audio.Strategy{audio.Privileged(dev.Privileged)}
	if cfg.Audio.Pulse {
		strategies = append(strategies, audio.Pulse("nlmirror"))
	}
	if cfg.Audio.RelayAddr != "" {
		strategies = append(strategies, audio.UDPRelay(cfg.Audio.RelayAddr))
	}
	return strategies
}

func (b *backend) close() {
	b.tasks.Wait()
	if n := b.tasks.Failed(); n > 0 {
		log.Printf("tasks: %d failed, last: %v", n, b.tasks.LastError())
	}
	if err := b.device.Location.StopMocking(); err != nil {
		log.Printf("location: stop mocking: %v", err)
	}
	if err := b.device.Close(); err != nil {
		log.Printf("device: close: %v", err)
	}
}
