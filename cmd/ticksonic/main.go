package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ticksonic/internal/audio"
	"ticksonic/internal/config"
	"ticksonic/internal/display"
	"ticksonic/internal/engine"
	"ticksonic/internal/feed"
	"ticksonic/internal/server"
	"ticksonic/internal/sound"
	"ticksonic/internal/state"
)

// soundBank is what the engine plays and the HTTP server lists.
type soundBank interface {
	engine.Sounds
	server.SoundFiles
}

// openPlayer acquires an audio output; release frees it.
type openPlayer func(rate beep.SampleRate, buffer time.Duration) (p audio.Player, release func(), err error)

func openSpeaker(rate beep.SampleRate, buffer time.Duration) (audio.Player, func(), error) {
	sp, err := audio.OpenSpeaker(rate, buffer)
	if err != nil {
		return nil, nil, err
	}
	return sp, sp.Close, nil
}

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	configPath := flag.String("config", "config.yaml", "path to the YAML config file (missing file = defaults)")
	silent := flag.Bool("silent", false, "do not initialise audio or load sounds")
	replay := flag.String("replay", "", "replay trades from a JSON-lines file instead of the live stream")
	speed := flag.Float64("speed", 1, "replay speed multiplier (0 = no pacing)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s\n", config.Usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.ApplyArgs(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *silent {
		cfg.Silent = true
	}
	if *replay != "" {
		cfg.Provider = config.ProviderReplay
		cfg.Replay.Path = *replay
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "speed" {
			cfg.Replay.Speed = *speed
		}
	})
	warnings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	logger := config.NewLogger(cfg.LogLevel)
	for _, w := range warnings {
		logger.Warn(w)
	}
	logger.Info("ticksonic starting",
		slog.String("provider", cfg.Provider),
		slog.Any("symbols", cfg.Symbols),
		slog.Float64("trade_threshold", cfg.TradeThreshold),
		slog.Float64("big_threshold", cfg.BigThreshold),
		slog.Bool("silent", cfg.Silent),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, loc, logger, openSpeaker, os.Stdout); err != nil {
		logger.Error("ticksonic stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("bye")
}

// run wires audio, feed, engine and the optional HTTP server. A missing audio
// device only costs the sound: signals are still printed and broadcast.
func run(ctx context.Context, cfg config.Config, loc *time.Location, logger *slog.Logger, open openPlayer, out io.Writer) error {
	if cfg.Silent {
		logger.Info("silent mode: audio disabled")
		return stream(ctx, cfg, loc, sound.Silent{}, logger, out)
	}
	player, release, err := open(beep.SampleRate(cfg.Audio.SampleRate), cfg.AudioBuffer())
	if err != nil {
		logger.Warn("audio device unavailable; continuing without sound", slog.String("err", err.Error()))
		player, release = audio.Mute{}, func() {}
	}
	defer release()

	bank, err := sound.NewBank(sound.Paths{
		AboveAsk: cfg.Sounds.AboveAsk,
		Buy:      cfg.Sounds.Buy,
		Between:  cfg.Sounds.Between,
		Sell:     cfg.Sounds.Sell,
		BelowBid: cfg.Sounds.BelowBid,
	}, sound.Factors{Up: cfg.Pitch.Up, Down: cfg.Pitch.Down}, player, logger)
	if err != nil {
		return fmt.Errorf("load sounds: %w", err)
	}
	return stream(ctx, cfg, loc, bank, logger, out)
}

func stream(ctx context.Context, cfg config.Config, loc *time.Location, snd soundBank, logger *slog.Logger, out io.Writer) error {
	st := state.NewState(cfg.Symbols...)
	src := newFeed(cfg, logger)

	var srv *server.HTTPServer
	var opts []engine.Option
	if cfg.HTTPPort > 0 {
		srv = server.NewHTTPServer(cfg, st, snd, logger)
		opts = append(opts, engine.WithListener(srv.BroadcastSignal))
	}
	eng, err := engine.New(engine.Config{
		TradeThreshold: cfg.TradeThreshold,
		BigThreshold:   cfg.BigThreshold,
		ShowMid:        cfg.ShowMid,
		Location:       loc,
	}, snd, display.NewPrinter(out), logger, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	// the engine finishing (end of a replay) stops everything else
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		return src.Run(runCtx, func(connected bool) {
			st.SetConnected(connected)
			logger.Info("feed status", slog.Bool("connected", connected))
			if srv != nil {
				srv.BroadcastStatus()
			}
		})
	})
	g.Go(func() error {
		defer cancel()
		return eng.Run(runCtx, src.Events(), st)
	})
	g.Go(func() error {
		for {
			select {
			case err := <-src.Errors():
				logger.Warn("feed error", slog.String("err", err.Error()))
				if srv != nil {
					srv.BroadcastError(err.Error())
				}
			case <-runCtx.Done():
				return nil
			}
		}
	})
	if srv != nil {
		g.Go(func() error {
			return srv.Serve(runCtx, fmt.Sprintf(":%d", cfg.HTTPPort))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newFeed(cfg config.Config, logger *slog.Logger) feed.Feed {
	if cfg.Provider == config.ProviderReplay {
		return feed.NewReplayFeed(cfg.Replay.Path, cfg.Replay.Speed, cfg.Symbols, logger)
	}
	var seeder *feed.Client
	if cfg.Alpaca.RestURL != "" {
		seeder = feed.NewClient(cfg.Alpaca.RestURL, cfg.Alpaca.KeyID, cfg.Alpaca.SecretKey, logger)
	}
	return feed.NewAlpacaFeed(feed.AlpacaConfig{
		StreamURL: cfg.Alpaca.StreamURL,
		KeyID:     cfg.Alpaca.KeyID,
		Secret:    cfg.Alpaca.SecretKey,
		Symbols:   cfg.Symbols,
		Retry:     feed.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.RetryDelay()},
	}, seeder, logger)
}
