package directory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/svcwire/internal/protocol/frame"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/protocol/schema"
	"github.com/danmuck/svcwire/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("directory: address required")
	ErrRejected        = errors.New("directory: request rejected")
	ErrNotFound        = errors.New("directory: not found")
	ErrConnClosed      = errors.New("directory: connection closed")
	ErrMismatchedReply = errors.New("directory: reply does not match request")
)

type ClientConfig struct {
	Address string
	Session session.Config
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{Session: session.DefaultConfig()}
}

// Client dials a directory. It is safe for concurrent Connect calls.
type Client struct {
	cfg ClientConfig

	// rngMu guards rng, which *rand.Rand does not do itself.
	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the directory, retrying with backoff until it succeeds, the
// attempts run out, or ctx ends.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			log.Debug().Str("addr", c.cfg.Address).Int("attempt", attempt).Msg("directory.Client connected")
			dc := &Conn{conn: conn, cfg: c.cfg.Session}
			dc.nextMessageID.Store(uint64(time.Now().UnixNano()))
			return dc, nil
		}
		log.Warn().Err(err).Str("addr", c.cfg.Address).Int("attempt", attempt).Msg("directory.Client dial")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.cfg.Session.Backoff.Exhausted(attempt) {
			return nil, fmt.Errorf("directory: dial %s after %d attempts: %w", c.cfg.Address, attempt, err)
		}
		if err := c.cfg.Session.Backoff.WaitDelay(ctx, c.delay(attempt)); err != nil {
			return nil, err
		}
	}
}

func (c *Client) delay(attempt int) time.Duration {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.cfg.Session.Backoff.Delay(attempt, c.rng)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", c.cfg.Address)
}

// Conn is one live directory connection. Requests are serialized.
type Conn struct {
	mu            sync.Mutex
	conn          net.Conn
	cfg           session.Config
	nextMessageID atomic.Uint64
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Publish registers rec and returns the directory's ack. A rejected ack is
// returned together with an ErrRejected error.
func (c *Conn) Publish(ctx context.Context, rec *record.Record) (schema.Ack, error) {
	return c.publish(ctx, func(cfg session.Config, id uint64) error {
		return session.WriteRecord(c.conn, cfg, id, rec, 0)
	})
}

func (c *Conn) PublishClass(ctx context.Context, sc *record.ServiceClassInfo) (schema.Ack, error) {
	return c.publish(ctx, func(cfg session.Config, id uint64) error {
		return session.WriteClass(c.conn, cfg, id, sc, 0)
	})
}

func (c *Conn) publish(ctx context.Context, send func(session.Config, uint64) error) (schema.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.begin(ctx)
	if err != nil {
		return schema.Ack{}, err
	}
	id := c.nextMessageID.Add(1)
	if err := send(cfg, id); err != nil {
		return schema.Ack{}, c.fail(err)
	}
	f, err := c.reply(cfg, id)
	if err != nil {
		return schema.Ack{}, err
	}
	ack, err := session.DecodeAck(f)
	if err != nil {
		return schema.Ack{}, err
	}
	if ack.Status != schema.StatusRegistered {
		return ack, fmt.Errorf("%w: code=%d message=%q", ErrRejected, ack.Code, ack.Message)
	}
	return ack, nil
}

// Lookup returns the records of classID, narrowed to one instance when name
// is set. uuid.Nil with no name lists everything.
func (c *Conn) Lookup(ctx context.Context, classID uuid.UUID, name string) ([]*record.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	id := c.nextMessageID.Add(1)
	if err := session.WriteLookup(c.conn, cfg, id, schema.Lookup{ClassID: classID, InstanceName: name}); err != nil {
		return nil, c.fail(err)
	}

	out := make([]*record.Record, 0)
	for {
		f, err := c.reply(cfg, id)
		if err != nil {
			return nil, err
		}
		switch f.Header.MessageType {
		case schema.MsgServiceRecord:
			rec, err := session.DecodeRecord(cfg, f)
			if err != nil {
				return nil, c.fail(err)
			}
			out = append(out, rec)
		case schema.MsgLookupDone:
			done, err := session.DecodeLookupDone(f)
			if err != nil {
				return nil, err
			}
			if int(done.Count) != len(out) {
				return nil, fmt.Errorf("%w: lookup done reports %d records, got %d", ErrMismatchedReply, done.Count, len(out))
			}
			return out, nil
		case schema.MsgAck:
			return nil, rejection(f)
		default:
			return nil, c.fail(fmt.Errorf("%w: %s", session.ErrUnexpectedMessage, schema.MessageName(f.Header.MessageType)))
		}
	}
}

// LookupClass returns the class registered under classID or ErrNotFound.
func (c *Conn) LookupClass(ctx context.Context, classID uuid.UUID) (*record.ServiceClassInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	id := c.nextMessageID.Add(1)
	if err := session.WriteLookup(c.conn, cfg, id, schema.Lookup{ClassID: classID, ClassOnly: true}); err != nil {
		return nil, c.fail(err)
	}

	var sc *record.ServiceClassInfo
	for {
		f, err := c.reply(cfg, id)
		if err != nil {
			return nil, err
		}
		switch f.Header.MessageType {
		case schema.MsgServiceClass:
			if sc, err = session.DecodeClass(cfg, f); err != nil {
				return nil, c.fail(err)
			}
		case schema.MsgLookupDone:
			if sc == nil {
				return nil, fmt.Errorf("%w: class %s", ErrNotFound, classID)
			}
			return sc, nil
		case schema.MsgAck:
			return nil, rejection(f)
		default:
			return nil, c.fail(fmt.Errorf("%w: %s", session.ErrUnexpectedMessage, schema.MessageName(f.Header.MessageType)))
		}
	}
}

// begin checks the connection and bounds the session timeouts by ctx.
func (c *Conn) begin(ctx context.Context) (session.Config, error) {
	if c.conn == nil {
		return session.Config{}, ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return session.Config{}, err
	}
	cfg := c.cfg
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return session.Config{}, context.DeadlineExceeded
		}
		if cfg.ReadTimeout <= 0 || left < cfg.ReadTimeout {
			cfg.ReadTimeout = left
		}
		if cfg.WriteTimeout <= 0 || left < cfg.WriteTimeout {
			cfg.WriteTimeout = left
		}
	}
	return cfg, nil
}

// reply reads the next frame answering request id.
func (c *Conn) reply(cfg session.Config, id uint64) (frame.Frame, error) {
	f, err := session.ReadMessage(c.conn, cfg)
	if err != nil {
		return frame.Frame{}, c.fail(err)
	}
	if f.Header.MessageID != id || f.Header.Flags&frame.FlagIsResponse == 0 {
		return frame.Frame{}, c.fail(fmt.Errorf("%w: message_id=%d want %d", ErrMismatchedReply, f.Header.MessageID, id))
	}
	return f, nil
}

// fail drops the connection; the stream is no longer in a known state.
func (c *Conn) fail(err error) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}

func rejection(f frame.Frame) error {
	ack, err := session.DecodeAck(f)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: code=%d message=%q", ErrRejected, ack.Code, ack.Message)
}
