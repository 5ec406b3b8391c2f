package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/beaconkit/beacon"
	"github.com/beaconkit/beacon/internal/config"
	"github.com/beaconkit/beacon/internal/debugstore"
	beaconfasthttp "github.com/beaconkit/beacon/fasthttp"
	beaconnats "github.com/beaconkit/beacon/nats"
	beaconzap "github.com/beaconkit/beacon/zap"
)

const maxRecordLine = 1 << 20

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [file|-]",
		Short: "Send recorded observations through a delivery session",
		Long: `Read observation records, one JSON object per line, and record them into a
new session that uploads to the configured endpoint. Records with a positive
"time" keep their timestamp. A summary is printed once the session shut down.

Examples:
  beacon replay records.ndjson
  cat records.ndjson | BEACON_ENDPOINT=http://127.0.0.1:8095/collect beacon replay -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			summary, err := replay(in, cfg, logger, nil)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

type replaySummary struct {
	SessionID      string                `json:"sessionId"`
	Records        int                   `json:"records"`
	Rejected       int                   `json:"rejected"`
	QuotaUsed      int64                 `json:"quotaUsed"`
	DroppedBatches int                   `json:"droppedBatches"`
	State          string                `json:"state"`
	Flushed        bool                  `json:"flushed"`
	Outcomes       *beacon.OutcomeReport `json:"outcomes,omitempty"`
}

// transportFor picks the transport named by cfg.Transport. nil lets the
// session build its default HTTP transport.
func transportFor(cfg *config.Config) beacon.Transport {
	switch cfg.Transport {
	case "fasthttp":
		return beaconfasthttp.New(beaconfasthttp.Options{})
	case "nats":
		return beaconnats.NewTransport(nil)
	default:
		return nil
	}
}

// replay records every line of in into a fresh session. transport overrides
// the one chosen from cfg.
func replay(in io.Reader, cfg *config.Config, logger *zap.Logger, transport beacon.Transport) (*replaySummary, error) {
	if transport == nil {
		transport = transportFor(cfg)
		if transport != nil {
			defer transport.Close()
		}
	}

	opts := cfg.SessionOptions()
	opts.Transport = transport
	opts.Sinks = []beacon.Sink{beaconzap.NewSink(logger)}

	if cfg.Debug && cfg.Valkey.Addr != "" {
		client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}})
		if err != nil {
			return nil, fmt.Errorf("connecting to valkey: %w", err)
		}
		defer client.Close()
		opts.DebugStore = debugstore.NewValkey(client, cfg.Valkey.Key, 0)
	}

	session, err := beacon.NewSession(opts)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if !session.Activate() {
		session.Teardown()
		return nil, errors.New("session did not activate")
	}

	summary := &replaySummary{SessionID: session.SessionID()}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		record, err := beacon.DecodeRecord(data)
		if err != nil {
			logger.Warn("skipping record", zap.Int("line", line), zap.Error(err))
			summary.Rejected++
			continue
		}

		var ok bool
		if record.Time > 0 {
			ok = session.RecordAt(record.State, record.Time)
		} else {
			ok = session.Record(record.State)
		}
		if !ok {
			summary.Rejected++
			continue
		}
		summary.Records++
	}
	if err := scanner.Err(); err != nil {
		session.Teardown()
		return nil, fmt.Errorf("reading records: %w", err)
	}

	summary.Flushed = session.Shutdown(cfg.ShutdownWait)
	summary.QuotaUsed = session.QuotaUsed()
	summary.DroppedBatches = len(session.DroppedBatches())
	summary.State = session.State().String()
	summary.Outcomes = session.TakeOutcomes()

	logger.Info("replay finished",
		zap.String("sessionId", summary.SessionID),
		zap.Int("records", summary.Records),
		zap.Int("rejected", summary.Rejected),
		zap.Bool("flushed", summary.Flushed),
	)
	return summary, nil
}
