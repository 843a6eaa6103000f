package directory

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/svcwire/internal/observability"
	"github.com/danmuck/svcwire/internal/protocol/frame"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/protocol/schema"
	"github.com/danmuck/svcwire/internal/protocol/session"
	"github.com/danmuck/svcwire/internal/protocol/stream"
	"github.com/danmuck/svcwire/internal/protocol/tlv"
	"github.com/danmuck/svcwire/internal/registry"
	"github.com/rs/zerolog/log"
)

type ServiceConfig struct {
	ListenAddr string
	Session    session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr: ":7415",
		Session:    session.DefaultConfig(),
	}
}

// Service answers publish and lookup requests against a registry.
type Service struct {
	cfg ServiceConfig
	reg *registry.Registry

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clientCount atomic.Int64
}

func NewService(cfg ServiceConfig, reg *registry.Registry) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{
		cfg:   cfg,
		reg:   reg,
		conns: make(map[net.Conn]struct{}),
	}
}

// Run listens on the configured address and serves until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("directory.Service.Run listening")
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends or Accept fails, then
// closes ln and every live connection and waits for their handlers.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan struct{})
	var handlers sync.WaitGroup
	defer func() {
		close(done)
		_ = ln.Close()
		s.closeAllConns()
		handlers.Wait()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.handleConn(conn)
		}()
	}
}

// ActiveConns reports the number of connections being served.
func (s *Service) ActiveConns() int {
	return int(s.clientCount.Load())
}

func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("directory.session client connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("directory.session client disconnected")
	}()

	for {
		f, err := session.ReadMessage(conn, s.cfg.Session)
		if err != nil {
			if errors.Is(err, stream.ErrConnectionClosed) {
				log.Debug().Err(err).Str("remote", remote).Msg("directory.handleConn closed")
				return
			}
			log.Warn().Err(err).Str("remote", remote).Msg("directory.handleConn read")
			return
		}
		if err := s.dispatch(conn, f); err != nil {
			log.Warn().Err(err).Str("remote", remote).Str("message", schema.MessageName(f.Header.MessageType)).Msg("directory.handleConn reply")
			return
		}
	}
}

// dispatch answers one request. Only transfer failures are returned.
func (s *Service) dispatch(conn net.Conn, f frame.Frame) error {
	start := time.Now()
	var (
		result string
		err    error
	)
	switch f.Header.MessageType {
	case schema.MsgServiceRecord:
		result, err = s.handleRecord(conn, f)
	case schema.MsgServiceClass:
		result, err = s.handleClass(conn, f)
	case schema.MsgLookup:
		result, err = s.handleLookup(conn, f)
	default:
		result = "unsupported"
		err = session.WriteAck(conn, s.cfg.Session, f.Header.MessageID, schema.Ack{
			Status:  schema.StatusRejected,
			Code:    schema.CodeUnsupportedMessage,
			Message: "unsupported message " + schema.MessageName(f.Header.MessageType),
		})
	}
	observability.RecordRequest(schema.MessageName(f.Header.MessageType), result, time.Since(start))
	return err
}

func (s *Service) handleRecord(conn net.Conn, f frame.Frame) (string, error) {
	rec, err := session.DecodeRecord(s.cfg.Session, f)
	if err != nil {
		return s.reject(conn, f, err)
	}
	entry, err := s.reg.Register(rec)
	if err != nil {
		return s.reject(conn, f, err)
	}
	log.Debug().
		Str("id", entry.ID.String()).
		Str("instance_name", rec.InstanceName.Value()).
		Msg("directory.handleRecord registered")
	return "ok", session.WriteAck(conn, s.cfg.Session, f.Header.MessageID, schema.Ack{
		Status:         schema.StatusRegistered,
		Code:           schema.CodeOK,
		RegistrationID: entry.ID.String(),
		RecordSize:     uint32(len(entry.Flattened)),
	})
}

func (s *Service) handleClass(conn net.Conn, f frame.Frame) (string, error) {
	sc, err := session.DecodeClass(s.cfg.Session, f)
	if err != nil {
		return s.reject(conn, f, err)
	}
	entry, err := s.reg.RegisterClass(sc)
	if err != nil {
		return s.reject(conn, f, err)
	}
	return "ok", session.WriteAck(conn, s.cfg.Session, f.Header.MessageID, schema.Ack{
		Status:         schema.StatusRegistered,
		Code:           schema.CodeOK,
		RegistrationID: entry.ID.String(),
		RecordSize:     uint32(len(entry.Flattened)),
	})
}

func (s *Service) handleLookup(conn net.Conn, f frame.Frame) (string, error) {
	l, err := session.DecodeLookup(f)
	if err != nil {
		return s.reject(conn, f, err)
	}
	id := f.Header.MessageID

	if l.ClassOnly {
		var count uint32
		entry, err := s.reg.LookupClass(l.ClassID)
		switch {
		case errors.Is(err, registry.ErrNotFound):
		case err != nil:
			return s.reject(conn, f, err)
		default:
			if err := session.WriteClass(conn, s.cfg.Session, id, entry.Class, frame.FlagIsResponse); err != nil {
				return "error", err
			}
			count = 1
		}
		return "ok", session.WriteLookupDone(conn, s.cfg.Session, id, schema.LookupDone{Count: count})
	}

	var records []*record.Record
	if l.InstanceName != "" {
		entry, err := s.reg.Lookup(l.ClassID, l.InstanceName)
		switch {
		case errors.Is(err, registry.ErrNotFound):
		case err != nil:
			return s.reject(conn, f, err)
		default:
			records = append(records, entry.Record)
		}
	} else {
		entries, err := s.reg.List(l.ClassID)
		if err != nil {
			return s.reject(conn, f, err)
		}
		for _, e := range entries {
			records = append(records, e.Record)
		}
	}
	for _, rec := range records {
		if err := session.WriteRecord(conn, s.cfg.Session, id, rec, frame.FlagIsResponse); err != nil {
			return "error", err
		}
	}
	return "ok", session.WriteLookupDone(conn, s.cfg.Session, id, schema.LookupDone{Count: uint32(len(records))})
}

// reject answers f with a rejected ack describing cause.
func (s *Service) reject(conn net.Conn, f frame.Frame, cause error) (string, error) {
	code := ackCode(cause)
	log.Warn().
		Err(cause).
		Uint64("message_id", f.Header.MessageID).
		Uint32("code", code).
		Msg("directory.reject")
	err := session.WriteAck(conn, s.cfg.Session, f.Header.MessageID, schema.Ack{
		Status:     schema.StatusRejected,
		Code:       code,
		Message:    cause.Error(),
		RecordSize: uint32(len(f.Payload)),
	})
	return "rejected", err
}

func ackCode(err error) uint32 {
	var ve schema.ValidationError
	switch {
	case errors.Is(err, record.ErrTruncatedBuffer):
		return schema.CodeTruncated
	case errors.Is(err, record.ErrCountTooLarge), errors.Is(err, record.ErrAddressTooLarge):
		return schema.CodeLimitExceeded
	case errors.Is(err, registry.ErrMissingInstanceName), errors.Is(err, registry.ErrMissingClassID):
		return schema.CodeMissingField
	case errors.Is(err, record.ErrInvalidHeader), errors.Is(err, record.ErrInvalidText),
		errors.As(err, &ve), errors.Is(err, tlv.ErrShortFieldHeader), errors.Is(err, tlv.ErrShortFieldValue),
		errors.Is(err, tlv.ErrTypeMismatch), errors.Is(err, tlv.ErrInvalidLength):
		return schema.CodeInvalidRecord
	default:
		return schema.CodeRegistryFailure
	}
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
