// -- cmd/replay.go --
package cmd

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/analytics"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/graph"
	"github.com/xkilldash9x/capgraph/internal/observability"
	"github.com/xkilldash9x/capgraph/internal/validator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// replaySummary is the JSON report printed after an offline replay.
type replaySummary struct {
	File     string                  `json:"file"`
	Parsed   int                     `json:"parsed"`
	Applied  int                     `json:"applied"`
	Rejected int                     `json:"rejected"`
	Version  uint64                  `json:"version"`
	Graph    schemas.GraphSummary    `json:"graph"`
	Metrics  *schemas.AnalyticsResult `json:"metrics,omitempty"`
}

// newReplayCmd creates and configures the `replay` command, which rebuilds a
// graph offline from a recorded event file and prints a report.
func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Replays a recorded event log offline and reports graph analytics",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read event file: %w", err)
			}

			format, _ := cmd.Flags().GetString("format")
			raws, err := decodeEvents(payload, format)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", args[0], err)
			}

			// Replays are historical by definition, so disable the future
			// timestamp bound unless one was set explicitly.
			skew := cfg.Ingest.ClockSkew
			if !cmd.Flags().Changed("clock-skew") {
				skew = 0
			}
			v := validator.New(skew, logger)
			engine := graph.NewEngine(cfg.Graph, logger)

			summary := replaySummary{File: args[0], Parsed: len(raws)}
			batch := make([]schemas.Event, 0, cfg.Ingest.BatchSize)
			flush := func() {
				if len(batch) == 0 {
					return
				}
				_, applied, rejected := engine.ApplyBatch(batch)
				summary.Applied += applied
				summary.Rejected += rejected
				batch = batch[:0]
			}
			for _, raw := range raws {
				ev, err := v.Validate(raw)
				if err != nil {
					summary.Rejected++
					logger.Debug("Skipping invalid event", zap.Uint64("seq", raw.Seq), zap.Error(err))
					continue
				}
				batch = append(batch, ev)
				if len(batch) >= cfg.Ingest.BatchSize {
					flush()
				}
			}
			flush()

			view := engine.Latest()
			summary.Version = view.Version
			summary.Graph = view.Summary()

			if names, _ := cmd.Flags().GetString("metrics"); names != "" {
				set, err := schemas.ParseMetricSet(names)
				if err != nil {
					return err
				}
				window := schemas.Window{End: time.Now()}
				calc := analytics.New(cfg.Analytics, logger)
				result, err := calc.Compute(cmd.Context(), view, window, set, true)
				if err != nil {
					return fmt.Errorf("analytics failed: %w", err)
				}
				summary.Metrics = result
			}

			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	replayCmd.Flags().String("format", "auto", "input format: auto, events (flat JSON array) or roslog (recorded topic log)")
	replayCmd.Flags().String("metrics", "", "comma separated metrics to compute (empty skips analytics)")
	replayCmd.Flags().Duration("clock-skew", 0, "reject events stamped further in the future than this (0 disables)")
	return replayCmd
}

// decodeEvents parses the payload as either a flat event array or a recorded
// capability topic log. With format "auto" the flat form is tried first.
func decodeEvents(payload []byte, format string) ([]schemas.RawEvent, error) {
	switch format {
	case "events":
		var raws []schemas.RawEvent
		if err := json.Unmarshal(payload, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	case "roslog":
		return rawsFromLog(payload)
	case "auto", "":
		var raws []schemas.RawEvent
		if err := json.Unmarshal(payload, &raws); err == nil && len(raws) > 0 && raws[0].Source != "" {
			return raws, nil
		}
		return rawsFromLog(payload)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

func rawsFromLog(payload []byte) ([]schemas.RawEvent, error) {
	entries, err := validator.ParseCapabilityLog(payload, 0)
	if err != nil {
		return nil, err
	}
	raws := make([]schemas.RawEvent, 0, len(entries))
	for _, e := range entries {
		raws = append(raws, schemas.RawEvent{
			Seq:        e.Seq,
			Timestamp:  e.Timestamp,
			Source:     e.Source,
			Target:     e.Target,
			Capability: e.Capability,
			Weight:     e.Weight,
			Meta:       map[string]string{"text": e.Text},
		})
	}
	return raws, nil
}
