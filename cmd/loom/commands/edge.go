package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/loomnotes/loom/internal/listing"
	"github.com/loomnotes/loom/internal/printer"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/spf13/cobra"
)

var (
	edgeLinkSourceHandle string
	edgeLinkTargetHandle string
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Connect and disconnect notes",
}

var edgeLinkCmd = &cobra.Command{
	Use:   "link <source-note-id> <target-note-id>",
	Short: "Create an edge between two notes",
	Long: `Create a directed edge from one note to another.

Handles name the attachment points on each note. Both notes must exist.

Example:
  loom edge link 9f3c... 41ab... --from s-r --to t-l`,
	Args: cobra.ExactArgs(2),
	RunE: runEdgeLink,
}

var edgeUnlinkCmd = &cobra.Command{
	Use:   "unlink <edge-id>",
	Short: "Remove an edge",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdgeUnlink,
}

var edgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List edges on the canvas",
	RunE:  runEdgeList,
}

func init() {
	edgeLinkCmd.Flags().StringVar(&edgeLinkSourceHandle, "from", "s-r", "Source attachment handle")
	edgeLinkCmd.Flags().StringVar(&edgeLinkTargetHandle, "to", "t-l", "Target attachment handle")

	edgeCmd.AddCommand(edgeLinkCmd, edgeUnlinkCmd, edgeListCmd)
	rootCmd.AddCommand(edgeCmd)
}

func runEdgeLink(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	edge := &canvas.Edge{
		ID:           uuid.New().String(),
		CanvasID:     canvasID,
		SourceNoteID: args[0],
		TargetNoteID: args[1],
		SourceHandle: edgeLinkSourceHandle,
		TargetHandle: edgeLinkTargetHandle,
		CreatedAtMs:  time.Now().UnixMilli(),
	}

	if err := store.CreateEdge(cmd.Context(), edge); err != nil {
		return printer.ErrorWithContext(
			"failed to create edge",
			fmt.Sprintf("Error: %v", err),
			map[string]string{"Canvas": canvasID},
			[]string{"Both endpoint notes must exist. List notes:\n  loom note list"},
		)
	}

	printer.Success("Linked %s → %s (edge %s)\n", args[0], args[1], edge.ID)
	return nil
}

func runEdgeUnlink(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteEdge(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to remove edge: %w", err)
	}

	printer.Success("Removed edge %s\n", args[0])
	return nil
}

func runEdgeList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return listing.ListEdges(cmd.Context(), store, os.Stdout)
}
