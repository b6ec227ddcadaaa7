// Package display prints one colored line per emitted trade signal.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"ticksonic/internal/zone"
)

const TimeLayout = "2006-01-02 15:04:05"

type Style struct {
	Fg        color.Attribute
	Bold      bool
	Highlight bool
}

// StyleFor picks the line style for a zone; big trades are bold on a grey
// background.
func StyleFor(z zone.Zone, big bool) Style {
	s := Style{Fg: color.FgWhite, Bold: big, Highlight: big}
	switch z {
	case zone.AboveAsk:
		s.Fg = color.FgYellow
	case zone.AtAsk:
		s.Fg = color.FgGreen
	case zone.AtBid:
		s.Fg = color.FgRed
	case zone.BelowBid:
		s.Fg = color.FgMagenta
	}
	return s
}

func (s Style) color() *color.Color {
	c := color.New(s.Fg)
	if s.Bold {
		c.Add(color.Bold)
	}
	if s.Highlight {
		c.Add(color.BgHiBlack)
	}
	return c
}

// Line is the already formatted content of one signal.
type Line struct {
	Price  string
	Mid    string // empty hides the column
	Amount string
	Time   string
	Symbol string
}

func (l Line) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Price: %s", l.Price)
	if l.Mid != "" {
		fmt.Fprintf(&b, " | Mid: %s", l.Mid)
	}
	fmt.Fprintf(&b, " | Amount: $%s | Time: %s | Ticker: %s", l.Amount, l.Time, l.Symbol)
	return b.String()
}

// Printer writes styled lines to a terminal. Safe for concurrent use by
// several engines sharing one output.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	noColor bool
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, noColor: color.NoColor}
}

// NewPlainPrinter never emits escape sequences.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w, noColor: true}
}

// Render applies the style to the line text.
func (p *Printer) Render(l Line, s Style) string {
	if p.noColor {
		return l.String()
	}
	c := s.color()
	c.EnableColor()
	return c.Sprint(l.String())
}

func (p *Printer) Print(l Line, s Style) error {
	out := p.Render(l, s)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.w, out)
	return err
}
