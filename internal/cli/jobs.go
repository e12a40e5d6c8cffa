package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"dilemma-cloud/internal/config"
	"dilemma-cloud/internal/logging"
	"github.com/spf13/cobra"
)

// The jobs below are idempotent and meant to be triggered by an external
// scheduler. Each prints its result as JSON on stdout.

func runJob(cmd *cobra.Command, configPath string, fn func(ctx context.Context, rt *runtime) (any, error)) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	rt, err := buildRuntime(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("close_failed", slog.Any("err", err))
		}
	}()

	out, err := fn(cmd.Context(), rt)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRecomputeLeaguesCmd reassigns leagues from the global ranking.
func NewRecomputeLeaguesCmd(configPath *string) *cobra.Command {
	var (
		field  string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "recompute-leagues",
		Short: "Rank all users and reassign leagues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, *configPath, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Ranking.Recompute(ctx, field, dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "weeklyPoints", "ranking field: score, weeklyPoints, seasonPoints or allTimePoints")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute cuts without writing leagues")
	return cmd
}

// NewSnapshotLeaderboardCmd rebuilds and stores a leaderboard snapshot.
func NewSnapshotLeaderboardCmd(configPath *string) *cobra.Command {
	var (
		rangeName string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "snapshot-leaderboard",
		Short: "Aggregate a leaderboard window and store the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, *configPath, func(ctx context.Context, rt *runtime) (any, error) {
				snap, err := rt.services.Leaderboard.Snapshot(ctx, rangeName, limit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"range": snap.Range, "count": snap.Count, "updatedAt": snap.UpdatedAt}, nil
			})
		},
	}
	cmd.Flags().StringVar(&rangeName, "range", "day", "window: day or week")
	cmd.Flags().IntVar(&limit, "limit", 0, "rows to keep, capped at 1000 (0 uses leaderboard.snapshotLimit)")
	return cmd
}

// NewSnapshotProgressCmd records a progression point for every active user.
func NewSnapshotProgressCmd(configPath *string) *cobra.Command {
	var minScore int64
	cmd := &cobra.Command{
		Use:   "snapshot-progress",
		Short: "Record score, ranks and leagues of active users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, *configPath, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Standing.SnapshotProgress(ctx, minScore)
			})
		},
	}
	cmd.Flags().Int64Var(&minScore, "min-score", 0, "only users with a score above this are recorded")
	return cmd
}

// NewResetSeasonCmd zeroes season points for every user.
func NewResetSeasonCmd(configPath *string) *cobra.Command {
	var season string
	cmd := &cobra.Command{
		Use:   "reset-season",
		Short: "Start a new season for all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, *configPath, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Ranking.ResetSeason(ctx, season)
			})
		},
	}
	cmd.Flags().StringVar(&season, "season", "", "season id (defaults to the current year-month)")
	return cmd
}

// NewSettleCmd resumes an interrupted resolution payout.
func NewSettleCmd(configPath *string) *cobra.Command {
	var dilemmaID string
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Finish paying out a resolved dilemma",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, *configPath, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Resolution.Settle(ctx, dilemmaID)
			})
		},
	}
	cmd.Flags().StringVar(&dilemmaID, "dilemma", "", "dilemma id")
	_ = cmd.MarkFlagRequired("dilemma")
	return cmd
}
