package debugstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const (
	// DefaultValkeyKey is the list entries are pushed to when no key is given.
	DefaultValkeyKey = "beacon:debug"

	valkeyTimeout = 2 * time.Second
)

// Valkey keeps entries in a capped Valkey list, so several processes can
// share one debug store. The client is owned by the caller.
type Valkey struct {
	client   valkey.Client
	key      string
	capacity int
}

// NewValkey stores entries under key, keeping the newest capacity entries.
func NewValkey(client valkey.Client, key string, capacity int) *Valkey {
	if key == "" {
		key = DefaultValkeyKey
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Valkey{client: client, key: key, capacity: capacity}
}

func (v *Valkey) Append(entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode debug entry %d: %w", entry.SequenceNumber, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), valkeyTimeout)
	defer cancel()

	cmds := valkey.Commands{
		v.client.B().Rpush().Key(v.key).Element(string(data)).Build(),
		v.client.B().Ltrim().Key(v.key).Start(-int64(v.capacity)).Stop(-1).Build(),
	}
	for _, resp := range v.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("append debug entry %d: %w", entry.SequenceNumber, err)
		}
	}
	return nil
}

func (v *Valkey) Entries() ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), valkeyTimeout)
	defer cancel()

	values, err := v.client.Do(ctx, v.client.B().Lrange().Key(v.key).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("list debug entries: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for i, value := range values {
		var e Entry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			return nil, fmt.Errorf("decode debug entry %s[%d]: %w", v.key, i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (v *Valkey) Close() error {
	return nil
}
