package session

import (
	"time"

	"github.com/danmuck/svcwire/internal/protocol/frame"
	"github.com/danmuck/svcwire/internal/protocol/record"
)

// Config defines transport and codec defaults for one side of a session.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Backoff        Backoff
	Frame          frame.Limits
	Record         record.Limits
	Text           record.TextEncoding
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		Backoff: Backoff{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			MaxAttempts:  8,
			Jitter:       true,
		},
		Frame:  frame.DefaultLimits(),
		Record: record.DefaultLimits(),
		Text:   record.TextUTF16LE,
	}
}

// WithDefaults fills zero fields from DefaultConfig. Timeouts are only
// defaulted when zero; a negative timeout disables the deadline.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = def.Backoff
	}
	if c.Frame.MaxPayloadBytes == 0 {
		c.Frame = def.Frame
	}
	if c.Text == 0 {
		c.Text = def.Text
	}
	return c
}

// Codec returns the record codec this config describes.
func (c Config) Codec() record.Codec {
	return record.Codec{Text: c.Text, Limits: c.Record}.WithDefaults()
}
