package directory

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresAddress(t *testing.T) {
	testlog.Start(t)
	_, err := NewClient(ClientConfig{Address: "  "})
	assert.ErrorIs(t, err, ErrAddressRequired)
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	client, err := NewClient(ClientConfig{Address: closedAddr(t), Session: testSession()})
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConcurrentConnectSharesClient(t *testing.T) {
	testlog.Start(t)
	cfg := testSession()
	cfg.Backoff.Jitter = true
	client, err := NewClient(ClientConfig{Address: closedAddr(t), Session: cfg})
	require.NoError(t, err)

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := client.Connect(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < workers; i++ {
		assert.Error(t, <-errs)
	}
}

func TestConnectHonoursContext(t *testing.T) {
	testlog.Start(t)
	cfg := testSession()
	cfg.Backoff.MaxAttempts = 0
	cfg.Backoff.InitialDelay = time.Hour
	client, err := NewClient(ClientConfig{Address: closedAddr(t), Session: cfg})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Connect(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestConnectRetriesUntilServiceAppears(t *testing.T) {
	testlog.Start(t)
	addr := closedAddr(t)
	cfg := testSession()
	cfg.Backoff.MaxAttempts = 0
	client, err := NewClient(ClientConfig{Address: addr, Session: cfg})
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
		_ = ln.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestClosedConnRefusesRequests(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	conn := connect(t, addr)
	require.NoError(t, conn.Close())
	_, err := conn.Publish(context.Background(), &record.Record{InstanceName: record.Some("x")})
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestExpiredContextIsRefused(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startService(t)
	conn := connect(t, addr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conn.Lookup(ctx, printers, "")
	assert.ErrorIs(t, err, context.Canceled)
}
