package audio

import (
	"errors"
	"math"
)

var (
	ErrInvalidFactor = errors.New("pitch factor must be a positive finite number")
	ErrEmptyShift    = errors.New("pitch shift produced no samples")
)

// PitchShift renders a at a different pitch by nearest-neighbour resampling.
// Output frame k takes the source frame nearest k/factor, so the result holds
// about len*factor frames: 1.5 stretches a sound, 0.8 compresses it.
// Positions round half to even and anything past the last frame is dropped.
//
// On failure the original asset is returned alongside the error so callers
// can keep using it; an empty asset is never produced.
func PitchShift(a *Asset, factor float64) (*Asset, error) {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return a, ErrInvalidFactor
	}
	if a == nil || len(a.Frames) == 0 {
		return a, ErrEmptyShift
	}

	n := len(a.Frames)
	out := make([][2]float64, 0, int(math.Ceil(float64(n)*factor)))
	for k := 0; ; k++ {
		pos := float64(k) / factor
		if pos >= float64(n) {
			break
		}
		idx := int(math.RoundToEven(pos))
		if idx >= n {
			continue
		}
		out = append(out, a.Frames[idx])
	}
	if len(out) == 0 {
		return a, ErrEmptyShift
	}
	return &Asset{Format: a.Format, Frames: out}, nil
}
