// Package logging provides the zap logger construction and helpers for
// keeping document text out of logs.
package logging

import (
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// New builds the root logger for the given environment. Production gets
// sampled JSON output; everything else gets the human-readable development
// encoder.
func New(env string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// Snippet returns a log-safe preview of document text: control characters
// and runs of whitespace collapse to single spaces, and the result is
// truncated to max runes with an ellipsis. Full document text must never be
// logged verbatim.
func Snippet(text string, max int) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}

	s := strings.TrimSpace(b.String())
	runes := []rune(s)
	if max > 0 && len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return s
}
