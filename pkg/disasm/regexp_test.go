package disasm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regexpSnapshot() *Snapshot {
	s := NewSnapshot(Arch{Bits: 32, ByteOrder: binary.LittleEndian})
	s.AddSegment(&Segment{
		Name:  ".text",
		Start: 0x401000,
		End:   0x401100,
		Data:  []byte("\x90\x90key=abc\x00\x90"),
	})
	s.AddSegment(&Segment{
		Name:  ".data",
		Start: 0x500000,
		End:   0x500100,
		Data:  []byte("key=xyz\x00key=123\x00"),
	})
	return s
}

func TestRegexpSearch(t *testing.T) {
	s := regexpSnapshot()

	re, err := NewRegexp(s, `key=(\w+)`)
	require.NoError(t, err)

	m := re.Search("")
	require.NotNil(t, m)
	assert.Equal(t, uint64(0x401002), m.Start(0))
	assert.Equal(t, uint64(0x401009), m.End(0))
	assert.Equal(t, []byte("key=abc"), m.Bytes(0))

	// Capture group, relocated the same way.
	assert.Equal(t, uint64(0x401006), m.Start(1))
	assert.Equal(t, []byte("abc"), m.Bytes(1))
}

func TestRegexpSearchSegment(t *testing.T) {
	s := regexpSnapshot()

	re, err := NewRegexp(s, `key=(\w+)`)
	require.NoError(t, err)

	m := re.Search(".data")
	require.NotNil(t, m)
	assert.Equal(t, uint64(0x500000), m.Start(0))
	assert.Equal(t, []byte("xyz"), m.Bytes(1))

	assert.Nil(t, re.Search(".bss"))
}

func TestRegexpFindAll(t *testing.T) {
	s := regexpSnapshot()

	re, err := NewRegexp(s, `key=(\w+)`)
	require.NoError(t, err)

	matches := re.FindAll("")
	require.Len(t, matches, 3)
	assert.Equal(t, uint64(0x401002), matches[0].Start(0))
	assert.Equal(t, uint64(0x500000), matches[1].Start(0))
	assert.Equal(t, uint64(0x500008), matches[2].Start(0))
	assert.Equal(t, []byte("123"), matches[2].Bytes(1))
}

func TestRegexpNoMatch(t *testing.T) {
	s := regexpSnapshot()

	re, err := NewRegexp(s, `token=\w+`)
	require.NoError(t, err)
	assert.Nil(t, re.Search(""))
	assert.Empty(t, re.FindAll(""))
}

func TestRegexpBadPattern(t *testing.T) {
	_, err := NewRegexp(regexpSnapshot(), `key=(`)
	assert.Error(t, err)
}
