package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autoroll/internal/app"
	"autoroll/internal/config"
	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect persisted run checkpoints",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print every checkpointed run",
		Long: `Print the checkpoint store configured in --config.

The store is read as the restorer would read it: unreadable documents load
as empty and malformed sub-records are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Store warnings go to stderr so JSON output stays parseable.
			log := logx.NewWriter(cmd.ErrOrStderr(), "warn")
			recs, err := loadCheckpoints(cmd.Context(), rootOpts.ConfigPath, log)
			if err != nil {
				return err
			}
			return writeCheckpoints(cmd.OutOrStdout(), rootOpts.Format, recs)
		},
	})
	return cmd
}

func loadCheckpoints(ctx context.Context, cfgPath string, log logx.Logger) (map[string]storage.Record, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	sc, err := app.StorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if errors.Is(err, storage.ErrDisabled) {
		return map[string]storage.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	defer st.Close()
	return st.Load(ctx)
}

// checkpointRow is one (user, kind) line of the output.
type checkpointRow struct {
	UserID string            `json:"user_id"`
	Kind   storage.Kind      `json:"kind"`
	Run    storage.RunRecord `json:"run"`
}

func checkpointRows(recs map[string]storage.Record) []checkpointRow {
	users := make([]string, 0, len(recs))
	for id := range recs {
		users = append(users, id)
	}
	sort.Strings(users)

	rows := make([]checkpointRow, 0, len(users))
	for _, id := range users {
		for _, k := range storage.Kinds {
			if sub := recs[id].Get(k); sub != nil {
				rows = append(rows, checkpointRow{UserID: id, Kind: k, Run: *sub})
			}
		}
	}
	return rows
}

func writeCheckpoints(w io.Writer, format string, recs map[string]storage.Record) error {
	rows := checkpointRows(recs)
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no checkpoints")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tKIND\tROLLS\tUNITS\tPROCEEDS\tBEST\tAUTO_SELL\tSTARTED")
	for _, r := range rows {
		best := "-"
		if r.Run.Best != nil {
			best = r.Run.Best.Rarity + ":" + r.Run.Best.ItemID
		}
		started := "-"
		if !r.Run.StartedAt.IsZero() {
			started = r.Run.StartedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			r.UserID, r.Kind,
			humanize.Comma(r.Run.RollCount), humanize.Comma(r.Run.UnitsProcessed), humanize.Comma(r.Run.Proceeds),
			best, r.Run.AutoSell, started)
	}
	return tw.Flush()
}
