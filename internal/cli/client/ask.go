package client

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type AskRequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var conversation string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the support chatbot a question",
		Long:  "Sends a question, with optional prior conversation, to the chatbot and prints the answer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), api, os.Stdout, args[0], conversation, outputJSON)
		},
	}

	cmd.Annotations = envAnnotations()
	cmd.Flags().StringVarP(&conversation, "context", "c", "", "Prior conversation to send along with the question")

	return cmd
}

func runAsk(ctx context.Context, api *APIClient, w io.Writer, question, conversation string, outputJSON bool) error {
	var resp AskResponse
	if err := api.Post(ctx, "/api/chatbot", AskRequest{Question: question, Context: conversation}, &resp); err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if outputJSON {
		return printJSON(w, resp)
	}
	_, err := fmt.Fprintln(w, resp.Answer)
	return err
}
