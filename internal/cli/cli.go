// ============================================================================
// ambushd CLI - command-line entry point
// ============================================================================
//
// Package: internal/cli
// File: cli.go
//
// Commands:
//   ambushd simulate   drive the in-memory world for N ticks, persist on exit
//   ambushd status     print the persisted hate table
//   ambushd config     print the effective, clamped configuration as YAML
//
// Global flags:
//   -c, --config     settings file (missing file = defaults + env)
//       --log-level  debug | info | warn | error
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/internal/controller"
	"github.com/ChuLiYu/faction-ambush/internal/hate"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

const defaultConfigPath = "configs/default.yaml"

var (
	configFile string
	logLevel   string
)

// BuildCLI assembles the root command
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ambushd",
		Short: "ambushd: faction hate, ambush and duel coordinator",
		Long: `ambushd tracks per-player faction hate and turns it into ambushes:
- correlated spawn callbacks over a fire-and-forget host API
- probability-gated ambush squads composed per hate tier
- duel arenas with participant gathering
- file or SQLite persistence of the hate table`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(buildSimulateCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildConfigCommand())

	return rootCmd
}

func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetLogLoggerLevel(lvl)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// loadSettings reads the config file. The default path may be absent; an
// explicitly named file must exist.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	path := configFile
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}
	s, err := config.Load(path)
	if err != nil {
		return s, fmt.Errorf("failed to load config: %w", err)
	}
	return s, nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted hate table status",
		Long:  "Load the configured store and print every player's hate per faction with its ambush tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return showStatus(cmd.Context(), cmd.OutOrStdout(), s.Snapshot())
		},
	}
}

func showStatus(ctx context.Context, out io.Writer, cfg config.Snapshot) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := controller.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load hate table: %w", err)
	}

	fmt.Fprintf(out, "Store:    %s\n", store.Describe())
	if !data.SavedAt.IsZero() {
		fmt.Fprintf(out, "Saved at: %s\n", data.SavedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(out, "Players:  %d\n", len(data.Players))
	fmt.Fprintf(out, "Records:  %d\n\n", data.RecordCount())
	if data.RecordCount() == 0 {
		fmt.Fprintln(out, "No hate recorded yet.")
		return nil
	}
	return writeTable(out, data, hate.StepTiers(cfg.TierThresholds))
}

func writeTable(out io.Writer, data types.SnapshotData, tiers hate.TierFunc) error {
	players := make([]types.PlayerID, 0, len(data.Players))
	for p := range data.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tFACTION\tHATE\tTIER\tLAST AMBUSH")
	for _, p := range players {
		factions := make([]types.FactionID, 0, len(data.Players[p]))
		for f := range data.Players[p] {
			factions = append(factions, f)
		}
		sort.Slice(factions, func(i, j int) bool { return factions[i] < factions[j] })

		for _, f := range factions {
			r := data.Players[p][f]
			last := "-"
			if !r.LastAmbush.IsZero() {
				last = r.LastAmbush.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%d\t%s\t%.1f\t%d\t%s\n", p, f, r.Hate, tiers(r.Hate), last)
		}
	}
	return tw.Flush()
}

// ============================================================================
// config
// ============================================================================

func buildConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the clamped configuration after defaults, file and " + strings.TrimSuffix(config.EnvPrefix, "_") + "_* environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), s.Snapshot())
		},
	}
}

func printConfig(out io.Writer, cfg config.Snapshot) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
