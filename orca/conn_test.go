package orca

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlansys/orcactl/log2"
)

func testConnPair(t testing.TB) (*Conn, net.Conn) {
	client, server := net.Pipe()
	c := NewConn(client, ConnOptions{
		Log:            log2.NewTest(t, log2.LDebug),
		NetworkTimeout: time.Second,
	})
	t.Cleanup(func() {
		_ = c.Close()
		_ = server.Close()
	})
	return c, server
}

func TestConnReadLine(t *testing.T) {
	t.Parallel()
	c, server := testConnPair(t)

	go func() {
		_, _ = server.Write([]byte("*;0;orca_version;2;9\nphy0;0;add;mt76;wlan0;txs;0;not\n"))
	}()

	line, err := c.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "*;0;orca_version;2;9", line)

	line, err = c.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "phy0;0;add;mt76;wlan0;txs;0;not", line)

	_, err = c.ReadLine(10 * time.Millisecond)
	assert.Equal(t, ErrTimeout, err)
}

func TestConnSend(t *testing.T) {
	t.Parallel()
	c, server := testConnPair(t)

	recvd := make(chan string, 1)
	go func() {
		br := bufio.NewReader(server)
		s, _ := br.ReadString('\n')
		recvd <- s
	}()

	require.NoError(t, c.Send("phy0;start;txs"))
	select {
	case s := <-recvd:
		assert.Equal(t, "phy0;start;txs\n", s)
	case <-time.After(time.Second):
		t.Fatal("send not received")
	}
}

func TestConnRemoteClose(t *testing.T) {
	t.Parallel()
	c, server := testConnPair(t)

	go func() {
		_, _ = server.Write([]byte("phy0;0;#bye\n"))
		_ = server.Close()
	}()

	// queued line still delivered after remote close
	line, err := c.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "phy0;0;#bye", line)

	_, err = c.ReadLine(time.Second)
	require.Error(t, err)
	assert.NotEqual(t, ErrTimeout, err)
	assert.True(t, c.Closed())

	err = c.Send("phy0;stop")
	assert.Error(t, err)
}

func TestConnClose(t *testing.T) {
	t.Parallel()
	c, _ := testConnPair(t)

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not exit")
	}
	_, err := c.ReadLine(time.Second)
	assert.Error(t, err)
	assert.NoError(t, c.Close()) // idempotent
}
