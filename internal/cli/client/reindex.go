package client

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type ReindexResponse struct {
	Success    bool   `json:"success"`
	ChunkCount int    `json:"chunkCount,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReindexCmd creates the reindex command.
func ReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the chatbot corpus",
		Long:  "Asks the server to reload the knowledge document and re-embed every chunk.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			return runReindex(cmd.Context(), api, os.Stdout, outputJSON)
		},
	}
	cmd.Annotations = envAnnotations()
	return cmd
}

func runReindex(ctx context.Context, api *APIClient, w io.Writer, outputJSON bool) error {
	var resp ReindexResponse
	if err := api.Post(ctx, "/api/chatbot/process-documents", nil, &resp); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	if outputJSON {
		return printJSON(w, resp)
	}

	fmt.Fprintf(w, "Rebuilt corpus: %d chunks", resp.ChunkCount)
	if resp.Skipped > 0 {
		fmt.Fprintf(w, " (%d skipped)", resp.Skipped)
	}
	fmt.Fprintln(w)
	return nil
}
