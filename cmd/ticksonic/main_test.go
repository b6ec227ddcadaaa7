package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"

	"ticksonic/internal/audio"
	"ticksonic/internal/config"
)

const tape = `{"type":"quote","symbol":"TSLA","ts":"2025-02-14T14:30:00Z","bid":355.0,"ask":355.1}
{"type":"trade","symbol":"TSLA","ts":"2025-02-14T14:30:01Z","price":355.1,"size":300}
{"type":"trade","symbol":"TSLA","ts":"2025-02-14T14:30:02Z","price":355.1,"size":1}
`

type countingPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *countingPlayer) Play(*audio.Asset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func writeWAV(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	a := &audio.Asset{Format: beep.Format{SampleRate: 8000, NumChannels: 2, Precision: 2}}
	for i := 0; i < 100; i++ {
		a.Frames = append(a.Frames, [2]float64{0.1, -0.1})
	}
	if err := wav.Encode(f, a.Streamer(), a.Format); err != nil {
		t.Fatal(err)
	}
}

func replayConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Provider = config.ProviderReplay
	cfg.Replay.Path = filepath.Join(dir, "tape.jsonl")
	cfg.Replay.Speed = 0
	cfg.Timezone = "UTC"
	if err := os.WriteFile(cfg.Replay.Path, []byte(tape), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, p := range []*string{&cfg.Sounds.AboveAsk, &cfg.Sounds.Buy, &cfg.Sounds.Between, &cfg.Sounds.Sell, &cfg.Sounds.BelowBid} {
		*p = filepath.Join(dir, filepath.Base(*p))
		writeWAV(t, *p)
	}
	return cfg
}

func runReplay(t *testing.T, cfg config.Config, open openPlayer) (string, string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, cfg, time.UTC, logger, open, &out)
	if ctx.Err() != nil {
		t.Fatal("replay did not finish")
	}
	return out.String(), logs.String(), err
}

func TestRunWithoutAudioDeviceStillPrints(t *testing.T) {
	noDevice := func(beep.SampleRate, time.Duration) (audio.Player, func(), error) {
		return nil, nil, errors.New("init speaker: no output device")
	}
	out, logs, err := runReplay(t, replayConfig(t), noDevice)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Count(out, "Ticker: TSLA"); got != 1 {
		t.Fatalf("want 1 printed trade, got %d in %q", got, out)
	}
	if !strings.Contains(logs, "audio device unavailable") {
		t.Fatalf("missing warning in %q", logs)
	}
}

func TestRunPlaysAndReleasesDevice(t *testing.T) {
	p := &countingPlayer{}
	released := false
	open := func(beep.SampleRate, time.Duration) (audio.Player, func(), error) {
		return p, func() { released = true }, nil
	}
	out, _, err := runReplay(t, replayConfig(t), open)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Ticker: TSLA") {
		t.Fatalf("nothing printed: %q", out)
	}
	if p.plays != 1 || !released {
		t.Fatalf("plays %d released %v", p.plays, released)
	}
}

func TestRunMissingSoundIsFatalWithoutDevice(t *testing.T) {
	cfg := replayConfig(t)
	cfg.Sounds.Sell = filepath.Join(t.TempDir(), "missing.wav")
	noDevice := func(beep.SampleRate, time.Duration) (audio.Player, func(), error) {
		return nil, nil, errors.New("no device")
	}
	_, _, err := runReplay(t, cfg, noDevice)
	if err == nil || !strings.Contains(err.Error(), "load sounds") {
		t.Fatalf("want load sounds error, got %v", err)
	}
}
