package sound

import (
	"crypto/sha1" // #nosec G505 - hashing for cache-busting only
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"ticksonic/internal/audio"
	"ticksonic/internal/zone"
)

type ID int

const (
	AboveAsk ID = iota
	AboveAskBig
	Buy
	BuyBig
	Between
	BetweenAsk
	BetweenBid
	Sell
	SellBig
	BelowBid
	BelowBidBig
	numIDs
)

var names = [numIDs]string{
	AboveAsk:    "above_ask",
	AboveAskBig: "above_ask_big",
	Buy:         "buy",
	BuyBig:      "buy_big",
	Between:     "between",
	BetweenAsk:  "between_ask_biased",
	BetweenBid:  "between_bid_biased",
	Sell:        "sell",
	SellBig:     "sell_big",
	BelowBid:    "below_bid",
	BelowBidBig: "below_bid_big",
}

func (id ID) String() string {
	if id < 0 || id >= numIDs {
		return fmt.Sprintf("sound(%d)", int(id))
	}
	return names[id]
}

// Resolve picks the sound for a classified trade. Between and NoQuote
// trades ignore the big flag.
func Resolve(r zone.Result, big bool) ID {
	pick := func(base, bigID ID) ID {
		if big {
			return bigID
		}
		return base
	}
	switch r.Zone {
	case zone.AboveAsk:
		return pick(AboveAsk, AboveAskBig)
	case zone.AtAsk:
		return pick(Buy, BuyBig)
	case zone.AtBid:
		return pick(Sell, SellBig)
	case zone.BelowBid:
		return pick(BelowBid, BelowBidBig)
	case zone.Between:
		switch r.Bias {
		case zone.TowardAsk:
			return BetweenAsk
		case zone.TowardBid:
			return BetweenBid
		}
	}
	return Between
}

// Paths locates the five base sounds.
type Paths struct {
	AboveAsk string
	Buy      string
	Between  string
	Sell     string
	BelowBid string
}

// Factors are the pitch multipliers for derived sounds.
type Factors struct {
	Up   float64
	Down float64
}

var DefaultFactors = Factors{Up: 1.5, Down: 0.8}

// File describes a loaded base sound for HTTP clients.
type File struct {
	ID   ID
	Path string
	Hash string
	URL  string // e.g. /sounds/buy.wav?v=<sha1>
}

// Bank owns every playable sound. It is read-only after NewBank returns.
type Bank struct {
	player audio.Player
	assets [numIDs]*audio.Asset
	files  []File
	log    *slog.Logger
}

// NewBank loads the base sounds and renders the pitched variants. Any base
// sound that cannot be read fails construction.
func NewBank(paths Paths, f Factors, player audio.Player, logger *slog.Logger) (*Bank, error) {
	if player == nil {
		return nil, errors.New("nil player")
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bank{player: player, log: logger}

	base := []struct {
		id   ID
		path string
	}{
		{AboveAsk, paths.AboveAsk},
		{Buy, paths.Buy},
		{Between, paths.Between},
		{Sell, paths.Sell},
		{BelowBid, paths.BelowBid},
	}
	for _, s := range base {
		if s.path == "" {
			return nil, fmt.Errorf("%s sound: no path configured", s.id)
		}
		a, err := audio.Load(s.path)
		if err != nil {
			return nil, fmt.Errorf("%s sound: %w", s.id, err)
		}
		sum, err := hashFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("%s sound: %w", s.id, err)
		}
		_, name := filepath.Split(s.path)
		b.assets[s.id] = a
		b.files = append(b.files, File{
			ID:   s.id,
			Path: s.path,
			Hash: sum,
			URL:  fmt.Sprintf("/sounds/%s?v=%s", name, sum),
		})
		logger.Debug("sound loaded",
			slog.String("sound", s.id.String()),
			slog.String("path", s.path),
			slog.Int("frames", a.Len()),
			slog.Duration("duration", a.Duration()),
		)
	}

	variants := []struct {
		id, from ID
		factor   float64
	}{
		{AboveAskBig, AboveAsk, f.Up},
		{BuyBig, Buy, f.Up},
		{SellBig, Sell, f.Down},
		{BelowBidBig, BelowBid, f.Down},
		{BetweenAsk, Between, f.Up},
		{BetweenBid, Between, f.Down},
	}
	for _, v := range variants {
		b.assets[v.id] = b.shift(v.id, b.assets[v.from], v.factor)
	}
	return b, nil
}

func (b *Bank) shift(id ID, src *audio.Asset, factor float64) *audio.Asset {
	out, err := audio.PitchShift(src, factor)
	if err != nil {
		b.log.Warn("pitch shift failed; using base sound",
			slog.String("sound", id.String()),
			slog.Float64("factor", factor),
			slog.String("err", err.Error()),
		)
		return src
	}
	return out
}

// Play starts the sound and returns immediately.
func (b *Bank) Play(id ID) error {
	a := b.Asset(id)
	if a == nil {
		return fmt.Errorf("unknown sound %s", id)
	}
	return b.player.Play(a)
}

func (b *Bank) Asset(id ID) *audio.Asset {
	if id < 0 || id >= numIDs {
		return nil
	}
	return b.assets[id]
}

// Files lists the base sounds in load order.
func (b *Bank) Files() []File {
	out := make([]File, len(b.files))
	copy(out, b.files)
	return out
}

// Silent satisfies the same Play contract without touching audio at all.
type Silent struct{}

func (Silent) Play(ID) error { return nil }
func (Silent) Files() []File { return nil }

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
