package directory

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/danmuck/svcwire/internal/protocol/frame"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/protocol/schema"
	"github.com/danmuck/svcwire/internal/protocol/session"
	"github.com/danmuck/svcwire/internal/protocol/stream"
	"github.com/danmuck/svcwire/internal/registry"
	"github.com/danmuck/svcwire/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	printers = uuid.MustParse("0c3a9e57-21f4-4f0e-9d3b-7b1b5f4c2a10")
	scanners = uuid.MustParse("9d1f3b2a-6c4e-4a8f-b0d7-2e5c8a1f4b63")
)

func testSession() session.Config {
	return session.Config{
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		Backoff: session.Backoff{
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     20 * time.Millisecond,
			MaxAttempts:  3,
		},
	}
}

// startService serves a fresh in-memory registry on a loopback listener.
func startService(t *testing.T) (*Service, string, context.CancelFunc) {
	t.Helper()
	reg, err := registry.Open(registry.Options{Path: "directory", FS: vfs.NewMem()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svc := NewService(ServiceConfig{ListenAddr: ln.Addr().String(), Session: testSession()}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
		_ = reg.Close()
	})
	return svc, ln.Addr().String(), cancel
}

func connect(t *testing.T, addr string) *Conn {
	t.Helper()
	client, err := NewClient(ClientConfig{Address: addr, Session: testSession()})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func printer(name string) *record.Record {
	return &record.Record{
		NameSpace:    12,
		InstanceName: record.Some(name),
		ClassID:      record.Some(printers),
		Version:      record.Some(record.Version{Version: 2, How: record.CompareNotLess}),
		Comment:      record.Some("lab printer"),
		QueryString:  record.Some("color=yes"),
		Protocols:    record.Some([]record.Protocol{{Family: 2, Protocol: 6}}),
		AddressPairs: record.Some([]record.AddressPair{
			{Local: []byte{10, 0, 0, 7}, Remote: make([]byte, 16), SocketType: 1, Protocol: 6},
			{Local: make([]byte, 28), Remote: []byte{1, 2, 3, 4}, SocketType: 2, Protocol: 17},
		}),
	}
}

func TestPublishAndLookup(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	conn := connect(t, addr)
	ctx := context.Background()

	in := printer("printer.a")
	ack, err := conn.Publish(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusRegistered, ack.Status)
	assert.NotEmpty(t, ack.RegistrationID)
	size, err := record.DefaultCodec().Size(in)
	require.NoError(t, err)
	assert.Equal(t, uint32(size), ack.RecordSize)

	again, err := conn.Publish(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ack.RegistrationID, again.RegistrationID)

	_, err = conn.Publish(ctx, printer("printer.b"))
	require.NoError(t, err)
	scanner := printer("scanner.a")
	scanner.ClassID = record.Some(scanners)
	_, err = conn.Publish(ctx, scanner)
	require.NoError(t, err)

	got, err := conn.Lookup(ctx, printers, "printer.a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, in.Equal(got[0]))

	byClass, err := conn.Lookup(ctx, printers, "")
	require.NoError(t, err)
	assert.Len(t, byClass, 2)

	all, err := conn.Lookup(ctx, uuid.Nil, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	missing, err := conn.Lookup(ctx, printers, "printer.z")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestPublishClassAndLookupClass(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	conn := connect(t, addr)
	ctx := context.Background()

	sc := &record.ServiceClassInfo{
		ClassID:    record.Some(printers),
		ClassName:  record.Some("printers"),
		ClassInfos: record.Some([]record.ClassInfo{{NameSpace: 12, ValueType: 4, Value: 631}}),
	}
	_, err := conn.PublishClass(ctx, sc)
	require.NoError(t, err)

	got, err := conn.LookupClass(ctx, printers)
	require.NoError(t, err)
	assert.True(t, sc.Equal(got))

	_, err = conn.LookupClass(ctx, scanners)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = conn.PublishClass(ctx, &record.ServiceClassInfo{ClassName: record.Some("anonymous")})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPublishWithoutInstanceNameIsRejected(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	conn := connect(t, addr)

	ack, err := conn.Publish(context.Background(), &record.Record{ClassID: record.Some(printers)})
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, schema.StatusRejected, ack.Status)
	assert.Equal(t, schema.CodeMissingField, ack.Code)

	// the connection stays usable after a rejection
	_, err = conn.Publish(context.Background(), printer("printer.a"))
	require.NoError(t, err)
}

func TestTruncatedRecordIsRejectedAndConnectionSurvives(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer raw.Close()

	flat, err := record.Flatten(printer("printer.a"))
	require.NoError(t, err)
	f := frame.Frame{
		Header:  frame.Header{MessageID: 9, MessageType: schema.MsgServiceRecord},
		Payload: flat[:len(flat)-5],
	}
	require.NoError(t, frame.WriteFrame(raw, f, frame.DefaultLimits()))

	reply, err := session.ReadMessage(raw, testSession())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), reply.Header.MessageID)
	assert.NotZero(t, reply.Header.Flags&frame.FlagIsError)
	ack, err := session.DecodeAck(reply)
	require.NoError(t, err)
	assert.Equal(t, schema.CodeTruncated, ack.Code)
	assert.Equal(t, uint32(len(flat)-5), ack.RecordSize)

	require.NoError(t, session.WriteRecord(raw, testSession(), 10, printer("printer.a"), 0))
	reply, err = session.ReadMessage(raw, testSession())
	require.NoError(t, err)
	ack, err = session.DecodeAck(reply)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusRegistered, ack.Status)
}

func TestUnsupportedMessageIsRejected(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer raw.Close()

	require.NoError(t, session.WriteLookupDone(raw, testSession(), 4, schema.LookupDone{}))
	reply, err := session.ReadMessage(raw, testSession())
	require.NoError(t, err)
	ack, err := session.DecodeAck(reply)
	require.NoError(t, err)
	assert.Equal(t, schema.CodeUnsupportedMessage, ack.Code)
}

func TestBadFrameClosesConnection(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer raw.Close()

	bad := frame.EncodeHeader(frame.Header{Magic: 0xEDCE1001, Version: frame.Version, HeaderLen: frame.FixedHeaderLen})
	_, err = raw.Write(bad)
	require.NoError(t, err)

	_, err = session.ReadMessage(raw, testSession())
	assert.ErrorIs(t, err, stream.ErrConnectionClosed)
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	testlog.Start(t)
	svc, addr, cancel := startService(t)
	conn := connect(t, addr)
	_, err := conn.Publish(context.Background(), printer("printer.a"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.ActiveConns() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return svc.ActiveConns() == 0 }, 2*time.Second, 5*time.Millisecond)
	_, err = conn.Publish(context.Background(), printer("printer.b"))
	assert.Error(t, err)
}

var errAcceptFailed = errors.New("accept failed")

// flakyListener hands out one real connection, then fails Accept once fail
// is closed.
type flakyListener struct {
	net.Listener
	fail     chan struct{}
	accepted bool
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if !l.accepted {
		l.accepted = true
		return l.Listener.Accept()
	}
	<-l.fail
	return nil, errAcceptFailed
}

func TestServeAcceptFailureClosesConnsAndWaits(t *testing.T) {
	testlog.Start(t)
	reg, err := registry.Open(registry.Options{Path: "directory", FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &flakyListener{Listener: inner, fail: make(chan struct{})}
	svc := NewService(ServiceConfig{ListenAddr: inner.Addr().String(), Session: testSession()}, reg)

	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(context.Background(), ln)
	}()

	client, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	require.Eventually(t, func() bool { return svc.ActiveConns() == 1 }, 2*time.Second, 5*time.Millisecond)

	close(ln.fail)
	select {
	case err := <-done:
		require.ErrorIs(t, err, errAcceptFailed)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after accept failure")
	}
	assert.Equal(t, 0, svc.ActiveConns(), "handlers finish before Serve returns")

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(make([]byte, 1))
	assert.Error(t, err, "server side of the connection is closed")
}
