package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/faction-ambush/internal/catalog"
	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/internal/controller"
	"github.com/ChuLiYu/faction-ambush/internal/duel"
	"github.com/ChuLiYu/faction-ambush/internal/hate"
	"github.com/ChuLiYu/faction-ambush/internal/metrics"
	"github.com/ChuLiYu/faction-ambush/internal/sim"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

// duelChallenger is the challenger template summoned in simulated duels
const duelChallenger types.PrefabID = 5001

// simulation knobs
type simOptions struct {
	Ticks        int
	Players      int
	Seed         int64
	TickDuration time.Duration
	TickInterval time.Duration
	KillChance   float64
	KillHate     float64
	CombatEvery  int
	DuelEvery    int
	Metrics      bool
}

func buildSimulateCommand() *cobra.Command {
	opts := simOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive an in-memory world through the coordinator",
		Long: `Simulate players killing faction units, entering combat and summoning
duels in an in-memory host. The hate table is restored from and saved to
the configured store, so consecutive runs accumulate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, cmd.OutOrStdout(), s, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Ticks, "ticks", 600, "number of host ticks to run")
	cmd.Flags().IntVar(&opts.Players, "players", 4, "number of simulated players")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")
	cmd.Flags().DurationVar(&opts.TickDuration, "tick-duration", time.Second, "game time per tick")
	cmd.Flags().DurationVar(&opts.TickInterval, "tick-interval", 0, "wall-clock sleep between ticks")
	cmd.Flags().Float64Var(&opts.KillChance, "kill-chance", 0.3, "per-player, per-tick chance of a faction kill")
	cmd.Flags().Float64Var(&opts.KillHate, "kill-hate", 12, "base hate per kill")
	cmd.Flags().IntVar(&opts.CombatEvery, "combat-every", 20, "ticks between combat starts per player")
	cmd.Flags().IntVar(&opts.DuelEvery, "duel-every", 150, "ticks between duel summons (0 disables)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "serve /metrics even if disabled in config")

	return cmd
}

// simClock advances by a fixed step per tick
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type simPlayer struct {
	id        types.PlayerID
	character types.Entity
	inCombat  bool
}

func runSimulation(ctx context.Context, out io.Writer, s config.Settings, opts simOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := s.Snapshot()

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		loaded, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		cat = loaded
	}
	factions := cat.Factions()
	if len(factions) == 0 {
		return fmt.Errorf("catalog has no factions")
	}

	var collector *metrics.Collector
	if cfg.MetricsEnabled || opts.Metrics {
		collector = metrics.NewCollector(nil)
		srv := metrics.NewServer(cfg.MetricsPort, nil)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	world := sim.NewWorld(sim.Options{ArenaTemplate: cfg.Duel.ArenaTemplate, Seed: opts.Seed})
	clock := &simClock{now: time.Now().UTC()}
	rng := rand.New(rand.NewSource(opts.Seed))

	ctrl, err := controller.NewController(cfg, world, controller.Options{
		Catalog:       cat,
		Metrics:       collector,
		Rand:          rng,
		Clock:         clock.Now,
		ExternalDecay: true, // decay follows simulated time
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	if err := ctrl.Start(ctx); err != nil {
		ctrl.Stop()
		return fmt.Errorf("failed to start controller: %w", err)
	}

	players := make([]*simPlayer, 0, opts.Players)
	for i := 0; i < opts.Players; i++ {
		pos := types.Vec3{X: float64(i) * 60, Z: float64(i%2) * 60}
		players = append(players, &simPlayer{
			id:        types.PlayerID(i + 1),
			character: world.AddPlayer(types.PlayerID(i+1), pos),
		})
		// every second player owns the plot they stand on
		if i%2 == 1 {
			world.AddTerritory(types.PlayerID(i+1), pos, 10)
		}
	}

	kills, ambushes, duels := 0, 0, 0
	ticks := 0
loop:
	for ; ticks < opts.Ticks; ticks++ {
		select {
		case <-ctx.Done():
			slog.Info("simulation interrupted", "tick", ticks)
			break loop
		default:
		}

		clock.Advance(opts.TickDuration)

		for _, p := range players {
			if rng.Float64() < opts.KillChance {
				victim := hate.Victim{
					Faction:     factions[rng.Intn(len(factions))],
					HasLevel:    true,
					HasMovement: true,
				}
				if ctrl.OnKill(p.id, victim, opts.KillHate) {
					kills++
				}
			}
			if opts.CombatEvery > 0 && (ticks+int(p.id))%opts.CombatEvery == 0 {
				p.inCombat = !p.inCombat
				ambushes += ctrl.OnCombatChange(p.character, p.inCombat)
			}
		}

		if opts.DuelEvery > 0 && ticks > 0 && ticks%opts.DuelEvery == 0 && len(players) > 0 {
			summoner := players[rng.Intn(len(players))]
			pos, _ := world.Position(summoner.character)
			if ctrl.SummonDuel(duel.SummonRequest{
				Player:                summoner.character,
				Challenger:            duelChallenger,
				Center:                pos,
				ChallengerPos:         pos.Add(types.Vec3{Z: 6}),
				MaxParticipants:       3,
				SupplementalAllowance: 1,
			}) {
				duels++
			}
		}

		world.Step()
		ctrl.HostTick()
		ctrl.Decay()

		if opts.TickInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.TickInterval):
			}
		}
	}

	status := ctrl.GetStatus()
	ctrl.Stop()

	fmt.Fprintf(out, "Simulated %d ticks (%s game time)\n", ticks, time.Duration(ticks)*opts.TickDuration)
	fmt.Fprintf(out, "  kills:        %d\n", kills)
	fmt.Fprintf(out, "  ambushes:     %d\n", ambushes)
	fmt.Fprintf(out, "  duel summons: %d (active %v)\n", duels, status["active_duels"])
	fmt.Fprintf(out, "  spawns:       %v handled, %v unmatched\n", status["spawns_handled"], status["spawns_unmatched"])
	fmt.Fprintf(out, "  entities:     %d\n", world.Count())
	fmt.Fprintf(out, "  hate records: %v (saved to %s)\n\n", status["hate_records"], status["store"])

	return writeTable(out, ctrl.Engine().Snapshot(), hate.StepTiers(cfg.TierThresholds))
}
