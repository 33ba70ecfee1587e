package watchdog

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFakeDaemon(t *testing.T) (addr string, lines chan string, stop func()) {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "watchdogd.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	lines = make(chan string, 64)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return sockPath, lines, func() { ln.Close() }
}

func TestSocketClientRegisterAndPet(t *testing.T) {
	addr, lines, stop := startFakeDaemon(t)
	defer stop()

	c, err := NewSocketClient(addr)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Register(ctx, "cluster1", 3))
	require.NoError(t, c.Pet(ctx, "cluster1", 1000))
	require.NoError(t, c.Unregister(ctx, "cluster1"))

	select {
	case line := <-lines:
		assert.Equal(t, "register cluster1 3", line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for register line")
	}
	select {
	case line := <-lines:
		assert.Equal(t, "renewed cluster1 1000", line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pet line")
	}
	select {
	case line := <-lines:
		assert.Equal(t, "unregister cluster1", line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unregister line")
	}
}

func TestSocketClientSendAfterCloseFails(t *testing.T) {
	addr, _, stop := startFakeDaemon(t)
	defer stop()

	c, err := NewSocketClient(addr)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	err = c.Pet(context.Background(), "cluster1", 1)
	assert.Error(t, err)
}

func TestNullClientIsNoOp(t *testing.T) {
	var c Client = NullClient{}
	ctx := context.Background()

	assert.NoError(t, c.Register(ctx, "cluster1", 1))
	assert.NoError(t, c.Pet(ctx, "cluster1", 1))
	assert.NoError(t, c.Unregister(ctx, "cluster1"))
	assert.NoError(t, c.Close())
}
