package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nlmirror/internal/config"
	"nlmirror/internal/server"
)

var (
	flagConfig      = flag.String("config", "", "Path to YAML config file")
	flagHost        = flag.String("host", "0.0.0.0", "Listen host")
	flagVideoPort   = flag.Int("video-port", 8888, "Video stream port")
	flagCommandPort = flag.Int("command-port", 8889, "Command protocol port")
	flagAudioPort   = flag.Int("audio-port", 8890, "Audio stream port")
	flagWS          = flag.String("ws", "", "WebSocket command bridge address (empty = disabled)")
	flagBitrate     = flag.Int("bitrate", 8_000_000, "Default video bitrate in bps when the viewer sends none")
	flagMaxSize     = flag.Int("max-size", 1080, "Default cap on the larger video dimension")
	flagFPS         = flag.Int("fps", 60, "Encoder frame rate")
	flagKeyframe    = flag.Duration("keyframe-interval", time.Second, "Keyframe interval")
	flagDisplayID   = flag.Int("display-id", 0, "Display to capture")
	flagAudioCodec  = flag.String("audio-codec", "pcm", "Audio codec (pcm or opus)")
	flagRelay       = flag.String("audio-relay", "", "UDP address to receive relayed device audio on (empty = disabled)")
	flagSerial      = flag.String("serial", "", "adb device serial")
	flagLocal       = flag.Bool("local", false, "Run device commands with the local shell instead of adb")
	flagADB         = flag.String("adb", "adb", "Path to adb")
	flagStats       = flag.Bool("stats", false, "Log pipeline stats every 5 seconds")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatal(err)
	}
	applyFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		log.Fatal(err)
	}

	b := newBackend(cfg)
	defer b.close()

	srv := server.New(server.Config{
		VideoAddr:     cfg.Addr(cfg.Listen.VideoPort),
		CommandAddr:   cfg.Addr(cfg.Listen.CommandPort),
		AudioAddr:     cfg.Addr(cfg.Listen.AudioPort),
		WebSocketAddr: cfg.Listen.WebSocketAddr,
		Video:         b.sessions,
		Audio:         b.audio,
		Commands:      b.commands,
		StopTimeout:   cfg.Session.JoinTimeout,
	})

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down...", sig)
		srv.Teardown()
	}()

	log.Printf("starting nlmirror (video %d, command %d, audio %d, bitrate %d, max_size %d, audio codec %s)",
		cfg.Listen.VideoPort, cfg.Listen.CommandPort, cfg.Listen.AudioPort,
		cfg.Video.Bitrate, cfg.Video.MaxSize, cfg.Audio.Codec)

	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

// applyFlags overrides the loaded config with every flag set on the
// command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Listen.Host = *flagHost
		case "video-port":
			cfg.Listen.VideoPort = *flagVideoPort
		case "command-port":
			cfg.Listen.CommandPort = *flagCommandPort
		case "audio-port":
			cfg.Listen.AudioPort = *flagAudioPort
		case "ws":
			cfg.Listen.WebSocketAddr = *flagWS
		case "bitrate":
			cfg.Video.Bitrate = *flagBitrate
		case "max-size":
			cfg.Video.MaxSize = *flagMaxSize
		case "fps":
			cfg.Video.FrameRate = *flagFPS
		case "keyframe-interval":
			cfg.Video.KeyframeInterval = *flagKeyframe
		case "display-id":
			cfg.Video.DisplayID = *flagDisplayID
		case "audio-codec":
			cfg.Audio.Codec = *flagAudioCodec
		case "audio-relay":
			cfg.Audio.RelayAddr = *flagRelay
		case "serial":
			cfg.Device.Serial = *flagSerial
		case "local":
			cfg.Device.Local = *flagLocal
		case "adb":
			cfg.Device.ADB = *flagADB
		case "stats":
			cfg.Stats = *flagStats
		}
	})
}
