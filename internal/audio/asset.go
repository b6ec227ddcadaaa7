// Package audio holds decoded sound samples, the pitch transform applied to
// them at load time and the device-level player.
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

var ErrEmptyAsset = errors.New("audio asset has no samples")

// Asset is a fully decoded sound. Frames holds one [left, right] pair per
// sample position; mono sources carry the same value in both slots and keep
// Format.NumChannels == 1. Assets are never mutated after construction and
// may be played concurrently.
type Asset struct {
	Format beep.Format
	Frames [][2]float64
}

func (a *Asset) Len() int { return len(a.Frames) }

func (a *Asset) Duration() time.Duration {
	return a.Format.SampleRate.D(len(a.Frames))
}

// Streamer returns an independent cursor over the asset's frames.
func (a *Asset) Streamer() beep.StreamSeeker {
	return &frameStreamer{frames: a.Frames}
}

// Load decodes a WAV or MP3 file by extension.
func Load(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	default:
		s, format, err = wav.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer s.Close()

	a, err := fromStreamer(s, format)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return a, nil
}

func fromStreamer(s beep.Streamer, format beep.Format) (*Asset, error) {
	buf := make([][2]float64, 1024)
	var frames [][2]float64
	for {
		n, ok := s.Stream(buf)
		frames = append(frames, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, ErrEmptyAsset
	}
	return &Asset{Format: format, Frames: frames}, nil
}

type frameStreamer struct {
	frames [][2]float64
	pos    int
}

func (s *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *frameStreamer) Err() error    { return nil }
func (s *frameStreamer) Len() int      { return len(s.frames) }
func (s *frameStreamer) Position() int { return s.pos }

func (s *frameStreamer) Seek(p int) error {
	if p < 0 || p > len(s.frames) {
		return fmt.Errorf("seek %d out of range [0, %d]", p, len(s.frames))
	}
	s.pos = p
	return nil
}
