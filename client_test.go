package tftp

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a scripted RFC 1350 peer over a loopback UDP socket,
// standing in for a real tftpd the way a unit test has to when the
// core only ever talks UDP (spec §8's end-to-end scenarios E1-E7).
type fakeServer struct {
	conn *net.UDPConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeServer{conn: conn}
}

func (f *fakeServer) addr() string { return f.conn.LocalAddr().String() }

func (f *fakeServer) recv(t *testing.T) (*datagram, net.Addr) {
	t.Helper()
	buf := make([]byte, 516)
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, addr, err := f.conn.ReadFromUDP(buf)
	require.NoError(t, err)
	d, err := decode(buf[:n])
	require.NoError(t, err)
	return d, addr
}

func (f *fakeServer) send(t *testing.T, addr net.Addr, payload []byte) {
	t.Helper()
	_, err := f.conn.WriteTo(payload, addr)
	require.NoError(t, err)
}

func TestE1_PutOctetSingleShortBlock(t *testing.T) {
	srv := newFakeServer(t)
	done := make(chan struct{})
	var sent int
	go func() {
		defer close(done)
		_, addr := srv.recv(t) // WRQ
		srv.send(t, addr, encodeAck(0))
		sent++
		d, addr := srv.recv(t) // DATA(1, "abc")
		assert.Equal(t, opDATA, d.op)
		assert.EqualValues(t, 1, d.block)
		assert.Equal(t, []byte("abc"), d.payload)
		srv.send(t, addr, encodeAck(1))
		sent++
	}()

	dir := t.TempDir()
	local := filepath.Join(dir, "abc.txt")
	require.NoError(t, os.WriteFile(local, []byte("abc"), 0o644))

	c := NewClient()
	status, err := c.Put(context.Background(), srv.addr(), local, "x", ModeOctet)
	require.NoError(t, err)
	assert.True(t, status.OK())

	<-done
	assert.Equal(t, 2, sent)
}

func TestE2_PutOctetExactBlockNeedsFinalEmptyData(t *testing.T) {
	srv := newFakeServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, addr := srv.recv(t) // WRQ
		srv.send(t, addr, encodeAck(0))

		d, addr := srv.recv(t) // DATA(1, 512 'A')
		assert.EqualValues(t, 1, d.block)
		assert.Len(t, d.payload, blockSize)
		srv.send(t, addr, encodeAck(1))

		d, addr = srv.recv(t) // DATA(2, "")
		assert.EqualValues(t, 2, d.block)
		assert.Empty(t, d.payload)
		srv.send(t, addr, encodeAck(2))
	}()

	dir := t.TempDir()
	local := filepath.Join(dir, "full.bin")
	require.NoError(t, os.WriteFile(local, bytes.Repeat([]byte("A"), blockSize), 0o644))

	c := NewClient()
	status, err := c.Put(context.Background(), srv.addr(), local, "x", ModeOctet)
	require.NoError(t, err)
	assert.True(t, status.OK())

	<-done
}

func TestE3_GetOctet600Bytes(t *testing.T) {
	srv := newFakeServer(t)
	full := bytes.Repeat([]byte("A"), 600)
	go func() {
		_, addr := srv.recv(t) // RRQ
		srv.send(t, addr, encodeData(1, full[:blockSize]))

		d, addr := srv.recv(t) // ACK(1)
		require.Equal(t, opACK, d.op)
		require.EqualValues(t, 1, d.block)
		srv.send(t, addr, encodeData(2, full[blockSize:]))

		d, _ = srv.recv(t) // ACK(2)
		require.Equal(t, opACK, d.op)
		require.EqualValues(t, 2, d.block)
	}()

	dir := t.TempDir()
	local := filepath.Join(dir, "out.bin")

	c := NewClient()
	status, err := c.Get(context.Background(), srv.addr(), "x", local, ModeOctet)
	require.NoError(t, err)
	assert.True(t, status.OK())

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, full, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1) // no leftover temp file
}

func TestE4_GetWithServerError(t *testing.T) {
	srv := newFakeServer(t)
	go func() {
		_, addr := srv.recv(t) // RRQ
		srv.send(t, addr, encodeError(ErrCodeFileNotFound, "nope"))
	}()

	dir := t.TempDir()
	local := filepath.Join(dir, "out.bin")

	c := NewClient()
	status, err := c.Get(context.Background(), srv.addr(), "x", local, ModeOctet)
	require.NoError(t, err)
	assert.Equal(t, Status{Code: ErrCodeFileNotFound, Message: "nope"}, status)

	assert.NoFileExists(t, local)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestE5_PutDroppedAckThenSuccess(t *testing.T) {
	srv := newFakeServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, addr := srv.recv(t) // WRQ
		srv.send(t, addr, encodeAck(0))

		var dataSeen int
		for {
			d, addr := srv.recv(t)
			require.Equal(t, opDATA, d.op)
			require.EqualValues(t, 1, d.block)
			dataSeen++
			if dataSeen < 5 {
				continue // drop: simulate a lost ACK(1)
			}
			srv.send(t, addr, encodeAck(1))
			return
		}
	}()

	dir := t.TempDir()
	local := filepath.Join(dir, "abc.txt")
	require.NoError(t, os.WriteFile(local, []byte("abc"), 0o644))

	c := NewClient()
	status, err := c.Put(context.Background(), srv.addr(), local, "x", ModeOctet)
	require.NoError(t, err)
	assert.True(t, status.OK())

	<-done
}

func TestE6_PutTimeout(t *testing.T) {
	srv := newFakeServer(t)
	go func() {
		_, addr := srv.recv(t) // WRQ
		srv.send(t, addr, encodeAck(0))
		// Then go silent: no ACK(1) ever arrives.
	}()

	dir := t.TempDir()
	local := filepath.Join(dir, "abc.txt")
	require.NoError(t, os.WriteFile(local, []byte("abc"), 0o644))

	c := NewClient()
	status, err := c.Put(context.Background(), srv.addr(), local, "x", ModeOctet)
	require.NoError(t, err)
	assert.Equal(t, Status{Code: 0, Message: "Timed out"}, status)
}

func TestE7_NetASCIIPutEncodesOnWire(t *testing.T) {
	srv := newFakeServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, addr := srv.recv(t) // WRQ
		srv.send(t, addr, encodeAck(0))

		d, addr := srv.recv(t) // DATA(1, encoded)
		assert.Equal(t, []byte("a\r\nb\r\x00c\r\n"), d.payload)
		srv.send(t, addr, encodeAck(1))
	}()

	dir := t.TempDir()
	local := filepath.Join(dir, "mixed.txt")
	require.NoError(t, os.WriteFile(local, []byte("a\nb\rc\r\n"), 0o644))

	c := NewClient()
	status, err := c.Put(context.Background(), srv.addr(), local, "x", ModeNetASCII)
	require.NoError(t, err)
	assert.True(t, status.OK())

	<-done
}
