package tftp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockSourceOctetShortFile(t *testing.T) {
	b := newBlockSource(bytes.NewReader([]byte("abc")), ModeOctet)

	payload, terminal, err := b.next()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), payload)
	assert.True(t, terminal)
}

func TestBlockSourceOctetExactBlockNeedsFinalEmpty(t *testing.T) {
	data := bytes.Repeat([]byte("A"), blockSize)
	b := newBlockSource(bytes.NewReader(data), ModeOctet)

	payload, terminal, err := b.next()
	require.NoError(t, err)
	assert.Len(t, payload, blockSize)
	assert.False(t, terminal)

	payload, terminal, err = b.next()
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.True(t, terminal)
}

func TestBlockSourceNetASCIICarriesExpansionAcrossBlocks(t *testing.T) {
	// One CR per source byte expands to two wire bytes, so a source
	// file of exactly blockSize CRs (one full raw read) produces twice
	// as many encoded bytes, spilling the carry-over into a third,
	// terminal call (spec §4.B/§9 carry-over requirement).
	data := bytes.Repeat([]byte{'\r'}, blockSize)
	b := newBlockSource(bytes.NewReader(data), ModeNetASCII)

	first, terminal, err := b.next()
	require.NoError(t, err)
	assert.Len(t, first, blockSize)
	assert.False(t, terminal)

	second, terminal, err := b.next()
	require.NoError(t, err)
	assert.Len(t, second, blockSize)
	assert.False(t, terminal)

	third, terminal, err := b.next()
	require.NoError(t, err)
	assert.Empty(t, third)
	assert.True(t, terminal)

	all := append(append(append([]byte{}, first...), second...), third...)
	want := bytes.Repeat([]byte{'\r', 0}, blockSize)
	assert.Equal(t, want, all)
}

func TestBlockSourceMailIsEncodedAsNetASCII(t *testing.T) {
	// spec §1 Non-goals: MAIL is sent as NETASCII, not raw octet.
	b := newBlockSource(bytes.NewReader([]byte("a\nb\rc\r\n")), ModeMail)

	payload, terminal, err := b.next()
	require.NoError(t, err)
	assert.Equal(t, []byte("a\r\nb\r\x00c\r\n"), payload)
	assert.True(t, terminal)
}
