package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/valkey-io/valkey-go"

	"github.com/beaconkit/beacon"
	"github.com/beaconkit/beacon/internal/compress"
	"github.com/beaconkit/beacon/internal/debugstore"
	"github.com/beaconkit/beacon/internal/protocol"
)

func newInspectCmd() *cobra.Command {
	var (
		withRecords bool
		fromValkey  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [debug-store.db]",
		Short: "Print the batches kept in a debug store",
		Long: `Print one JSON line per batch kept in a debug store, in the order the batches
were built. The store is a SQLite file, or with --valkey the list configured
under valkey.addr and valkey.key.

Examples:
  beacon inspect /tmp/beacon-debug.db
  beacon inspect --records /tmp/beacon-debug.db
  BEACON_VALKEY_ADDR=127.0.0.1:6379 beacon inspect --valkey`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fromValkey {
				if len(args) != 1 {
					return errors.New("a debug store path is required")
				}
				return inspectFile(cmd.OutOrStdout(), args[0], withRecords)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Valkey.Addr == "" {
				return errors.New("valkey.addr is not configured")
			}
			client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}})
			if err != nil {
				return fmt.Errorf("connecting to valkey: %w", err)
			}
			defer client.Close()
			return inspect(cmd.OutOrStdout(), debugstore.NewValkey(client, cfg.Valkey.Key, 0), withRecords)
		},
	}
	cmd.Flags().BoolVar(&withRecords, "records", false, "include the decoded records")
	cmd.Flags().BoolVar(&fromValkey, "valkey", false, "read the configured valkey list instead of a file")
	return cmd
}

type inspectedBatch struct {
	SequenceNumber   int64                      `json:"sequenceNumber"`
	Encoding         string                     `json:"encoding"`
	CompressedLength int                        `json:"compressedLength"`
	RawLength        int                        `json:"rawLength"`
	CreatedAt        time.Time                  `json:"createdAt"`
	Envelope         *protocol.Envelope         `json:"envelope,omitempty"`
	RecordCount      int                        `json:"recordCount"`
	FirstRecordID    int64                      `json:"firstRecordId"`
	LastRecordID     int64                      `json:"lastRecordId"`
	Records          []beacon.ObservationRecord `json:"records,omitempty"`
	Error            string                     `json:"error,omitempty"`
}

func inspectFile(out io.Writer, path string, withRecords bool) error {
	// OpenSQLite creates missing files.
	if _, err := os.Stat(path); err != nil {
		return err
	}
	store, err := debugstore.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return inspect(out, store, withRecords)
}

func inspect(out io.Writer, store debugstore.Store, withRecords bool) error {
	entries, err := store.Entries()
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	enc := json.NewEncoder(out)
	for _, entry := range entries {
		if err := enc.Encode(inspectEntry(entry, withRecords)); err != nil {
			return err
		}
	}
	return nil
}

func inspectEntry(entry debugstore.Entry, withRecords bool) inspectedBatch {
	batch := inspectedBatch{
		SequenceNumber:   entry.SequenceNumber,
		Encoding:         entry.Encoding,
		CompressedLength: len(entry.Payload),
		RawLength:        entry.RawLength,
		CreatedAt:        entry.CreatedAt,
	}

	codec, err := compress.ForName(entry.Encoding)
	if err != nil {
		batch.Error = err.Error()
		return batch
	}
	raw, err := codec.Decompress(entry.Payload)
	if err != nil {
		batch.Error = fmt.Sprintf("decompressing: %v", err)
		return batch
	}

	info, err := protocol.Inspect(raw)
	if err != nil {
		batch.Error = err.Error()
		return batch
	}
	batch.RecordCount = info.RecordCount
	batch.FirstRecordID = info.FirstRecordID
	batch.LastRecordID = info.LastRecordID

	decoded, err := protocol.Decode(raw)
	if err != nil {
		batch.Error = err.Error()
		return batch
	}
	batch.Envelope = &decoded.Envelope

	if !withRecords {
		return batch
	}
	for _, event := range decoded.Events {
		record, err := beacon.DecodeRecord(event)
		if err != nil {
			batch.Error = fmt.Sprintf("record: %v", err)
			return batch
		}
		batch.Records = append(batch.Records, record)
	}
	return batch
}
