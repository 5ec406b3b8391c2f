package debugstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(seq int64) Entry {
	return Entry{
		SequenceNumber: seq,
		Encoding:       "gzip",
		RawLength:      int(seq) * 10,
		Payload:        []byte{byte(seq), 0x1f, 0x8b},
		CreatedAt:      time.UnixMicro(1_700_000_000_000_000 + seq),
	}
}

func TestMemory_AppendAndList(t *testing.T) {
	m := NewMemory(5)
	for i := int64(0); i < 3; i++ {
		require.NoError(t, m.Append(entry(i)))
	}

	entries, err := m.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i), e.SequenceNumber)
	}
}

func TestMemory_DropsOldestWhenFull(t *testing.T) {
	m := NewMemory(3)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, m.Append(entry(i)))
	}

	entries, err := m.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(2), entries[0].SequenceNumber)
	assert.Equal(t, int64(4), entries[2].SequenceNumber)
	assert.Equal(t, int64(2), m.DroppedCount())
	assert.Equal(t, int64(5), m.OfferedCount())
}

func TestMemory_Close(t *testing.T) {
	m := NewMemory(0)
	require.NoError(t, m.Append(entry(1)))
	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Size())

	entries, err := m.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLite_AppendAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	for i := int64(0); i < 3; i++ {
		require.NoError(t, s.Append(entry(i)))
	}
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, entry(1).Payload, entries[1].Payload)
	assert.Equal(t, "gzip", entries[2].Encoding)
	assert.Equal(t, 20, entries[2].RawLength)
	assert.Equal(t, entry(2).CreatedAt.UnixMicro(), entries[2].CreatedAt.UnixMicro())
}

func TestStoresImplementInterface(_ *testing.T) {
	var _ Store = (*Memory)(nil)
	var _ Store = (*SQLite)(nil)
	var _ Store = (*Valkey)(nil)
}
