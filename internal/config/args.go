package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const Usage = "ticksonic [flags] [ticker] [threshold] [big_threshold]"

// ApplyArgs overlays the positional command-line arguments. A ticker
// replaces the configured symbol list.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("too many arguments; usage: %s", Usage)
	}
	if len(args) >= 1 {
		sym := strings.ToUpper(strings.TrimSpace(args[0]))
		if sym == "" {
			return errors.New("ticker must not be empty")
		}
		c.Symbols = []string{sym}
	}
	if len(args) >= 2 {
		v, err := parseAmount(args[1])
		if err != nil {
			return fmt.Errorf("threshold must be a numeric value: %w", err)
		}
		c.TradeThreshold = v
	}
	if len(args) == 3 {
		v, err := parseAmount(args[2])
		if err != nil {
			return fmt.Errorf("big_threshold must be a numeric value: %w", err)
		}
		c.BigThreshold = v
	}
	return nil
}

// parseAmount accepts plain numbers with optional "_" or "," grouping.
func parseAmount(s string) (float64, error) {
	s = strings.NewReplacer("_", "", ",", "").Replace(strings.TrimSpace(s))
	return strconv.ParseFloat(s, 64)
}
