package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/loomnotes/loom/internal/collab"
	"github.com/loomnotes/loom/internal/config"
	"github.com/loomnotes/loom/internal/printer"
	"github.com/loomnotes/loom/internal/realtime"
	"github.com/spf13/cobra"
)

var whoLive bool

var whoCmd = &cobra.Command{
	Use:   "who",
	Short: "Show collaborators currently on the canvas",
	Long: `Show the collaborators currently present on the canvas.

By default this reads the ephemeral presence registry without joining it, so
running the command does not announce you to other collaborators.

With --live the command joins the canvas under your identity (the user block
in loom.yml, or LOOM_USER_ID/LOOM_USER_NAME, or a generated one) and streams
joins and leaves until interrupted.`,
	RunE: runWho,
}

func init() {
	whoCmd.Flags().BoolVar(&whoLive, "live", false, "Join the canvas and stream presence changes")
	rootCmd.AddCommand(whoCmd)
}

func runWho(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if whoLive {
		return runWhoLive(cmd, cfg)
	}

	members, err := realtime.Members(cmd.Context(), redisOptions(cfg), canvasID)
	if err != nil {
		return fmt.Errorf("failed to read presence: %w", err)
	}

	if len(members) == 0 {
		fmt.Printf("Nobody is on canvas '%s'.\n", canvasID)
		return nil
	}

	var records []realtime.PresenceRecord
	for _, rec := range members {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].DisplayName < records[j].DisplayName
	})

	fmt.Printf("Collaborators on canvas '%s':\n\n", canvasID)
	fmt.Printf("%-20s %-38s %s\n", "NAME", "ID", "COLOR")
	for _, rec := range records {
		fmt.Printf("%-20s %-38s %s\n", rec.DisplayName, rec.ID, rec.Color)
	}

	return nil
}

// runWhoLive joins the canvas as a full collaboration session and streams
// presence changes until Ctrl+C.
func runWhoLive(cmd *cobra.Command, cfg *config.LoomConfig) error {
	identity, err := resolveIdentity(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}

	session, err := collab.NewSession(redisOptions(cfg), canvasID, identity, sessionTuning(cfg))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Open(ctx); err != nil {
		return err
	}

	printer.Info("On canvas '%s' as %s (Ctrl+C to leave)...\n\n", canvasID, identity.DisplayName)
	streamPresence(ctx, session, 250*time.Millisecond, os.Stdout)
	return nil
}

// streamPresence polls session membership and writes one line per join or
// leave until the context is cancelled.
func streamPresence(ctx context.Context, session *collab.Session, interval time.Duration, w io.Writer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := map[string]string{}
	for _, c := range session.Collaborators() {
		seen[c.ID] = c.DisplayName
		fmt.Fprintf(w, "  %s is here\n", c.DisplayName)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			current := map[string]string{}
			for _, c := range session.Collaborators() {
				current[c.ID] = c.DisplayName
			}
			for id, name := range current {
				if _, ok := seen[id]; !ok {
					fmt.Fprintf(w, "+ %s joined\n", name)
				}
			}
			for id, name := range seen {
				if _, ok := current[id]; !ok {
					fmt.Fprintf(w, "- %s left\n", name)
				}
			}
			seen = current
		}
	}
}
