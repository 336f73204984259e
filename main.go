package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"studybuddy/bot"
	"studybuddy/bots/StudyBuddy/db"

	_ "studybuddy/bots/StudyBuddy"
)

const stopOnFailure = false

var placeholderReminders = []string{
	"Finish math homework",
	"Prepare for science quiz",
}

var envFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "studybuddy",
		Short:        "Telegram study assistant",
		SilenceUsage: true,
		RunE:         runBots,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with environment variables")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run all registered bots until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runBots,
	})
	root.AddCommand(newSeedCmd())

	return root
}

// runBots starts every registered bot and waits for them to stop
func runBots(cmd *cobra.Command, _ []string) error {
	cfg, err := bot.LoadConfig(envFile)
	if err != nil {
		return err
	}

	zl, err := bot.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	started := 0
	for _, rec := range bot.GetThemAll() {
		s := zl.Sugar().With("ns", rec.Name)

		bctx, err := rec.Bot.Init(ctx, cfg, s)
		if err != nil {
			s.Errorw("failed to initialize bot", "err", err)
			if stopOnFailure {
				return err
			}
			continue
		}

		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Bot.Run(bctx)
		}()
	}

	if started == 0 {
		return errors.New("no bot could be started")
	}

	wg.Wait()
	return nil
}

func newSeedCmd() *cobra.Command {
	var owners []int64

	cmd := &cobra.Command{
		Use:   "seed-reminders",
		Short: "Store placeholder reminders for the given users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(owners) == 0 {
				return errors.New("at least one --owner is required")
			}

			cfg, err := bot.LoadDBConfig(envFile)
			if err != nil {
				return err
			}

			d, err := db.Open(cfg.DBDriver, cfg.DBConnStr)
			if err != nil {
				return err
			}
			defer d.Close()

			zl, err := bot.NewLogger("", "info")
			if err != nil {
				return err
			}
			defer zl.Sync()

			n, err := seedReminders(cmd.Context(), d, owners)
			if err != nil {
				return err
			}
			zl.Sugar().Infow("placeholder reminders created", "count", n, "db", cfg.DBConnStr)
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&owners, "owner", nil, "Telegram user ID to own the reminders (repeatable)")

	return cmd
}

// seedReminders gives every owner one of the placeholder reminders in turn
func seedReminders(ctx context.Context, d *db.Database, owners []int64) (int, error) {
	n := 0
	for i, text := range placeholderReminders {
		usr := owners[i%len(owners)]
		if _, err := d.AddReminder(ctx, usr, text); err != nil {
			return n, errors.Wrapf(err, "failed seeding reminder for %d", usr)
		}
		n++
	}
	return n, nil
}
