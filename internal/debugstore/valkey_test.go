package debugstore

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func encoded(t *testing.T, e Entry) string {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return string(data)
}

func TestValkey_Append(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		DoMulti(gomock.Any(),
			mock.Match("RPUSH", "debug:test", encoded(t, entry(4))),
			mock.Match("LTRIM", "debug:test", "-3", "-1"),
		).
		Return([]valkey.ValkeyResult{
			mock.Result(mock.ValkeyInt64(1)),
			mock.Result(mock.ValkeyString("OK")),
		})

	store := NewValkey(client, "debug:test", 3)
	require.NoError(t, store.Append(entry(4)))
}

func TestValkey_AppendError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]valkey.ValkeyResult{
			mock.ErrorResult(errors.New("connection reset")),
			mock.ErrorResult(errors.New("connection reset")),
		})

	err := NewValkey(client, "", 0).Append(entry(1))
	assert.ErrorContains(t, err, "connection reset")
}

func TestValkey_Entries(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("LRANGE", DefaultValkeyKey, "0", "-1")).
		Return(mock.Result(mock.ValkeyArray(
			mock.ValkeyString(encoded(t, entry(1))),
			mock.ValkeyString(encoded(t, entry(2))),
		)))

	entries, err := NewValkey(client, "", 0).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].SequenceNumber)
	assert.Equal(t, entry(2).Payload, entries[1].Payload)
	assert.Equal(t, entry(2).CreatedAt.UnixMicro(), entries[1].CreatedAt.UnixMicro())
}

func TestValkey_EntriesRejectsGarbage(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.Result(mock.ValkeyArray(mock.ValkeyString("not json"))))

	_, err := NewValkey(client, "k", 0).Entries()
	assert.ErrorContains(t, err, "k[0]")
}
