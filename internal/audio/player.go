package audio

import (
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Player starts playback of an asset and returns without waiting for it to
// finish.
type Player interface {
	Play(a *Asset) error
}

// Speaker plays through the process-wide audio device. Overlapping sounds
// are mixed by the device.
type Speaker struct {
	rate beep.SampleRate
}

// OpenSpeaker acquires the output device. Callers must Close it.
func OpenSpeaker(rate beep.SampleRate, buffer time.Duration) (*Speaker, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", rate)
	}
	if err := speaker.Init(rate, rate.N(buffer)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	return &Speaker{rate: rate}, nil
}

func (s *Speaker) Play(a *Asset) error {
	if a == nil || a.Len() == 0 {
		return ErrEmptyAsset
	}
	var st beep.Streamer = a.Streamer()
	if a.Format.SampleRate != s.rate {
		st = beep.Resample(4, a.Format.SampleRate, s.rate, st)
	}
	speaker.Play(st)
	return nil
}

func (s *Speaker) Close() {
	speaker.Clear()
	speaker.Close()
}

// Mute discards every sound.
type Mute struct{}

func (Mute) Play(*Asset) error { return nil }
