package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/chatctx/internal/conversation"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question within a session",
		Long: `Ask a question and print the structured answer.

The context can be given inline with --context or read from a file with
--context-file ("-" reads standard input). Without --session a new session
is created and its id is printed so the conversation can continue.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().StringP("session", "s", "", "Session id to continue")
	cmd.Flags().StringP("action", "a", conversation.ActionQA, "Action: qa, summary, expand or free text")
	cmd.Flags().StringP("context", "c", "", "Context text")
	cmd.Flags().String("context-file", "", "Read the context from a file")
	cmd.Flags().Bool("json", false, "Print the result as JSON")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	req := conversation.Request{}
	req.SessionID, _ = cmd.Flags().GetString("session") //nolint:errcheck // Flags are registered above.
	req.Action, _ = cmd.Flags().GetString("action")     //nolint:errcheck // Flags are registered above.
	req.Context, _ = cmd.Flags().GetString("context")   //nolint:errcheck // Flags are registered above.
	asJSON, _ := cmd.Flags().GetBool("json")            //nolint:errcheck // Flags are registered above.
	if len(args) == 1 {
		req.Question = args[0]
	}

	if path, _ := cmd.Flags().GetString("context-file"); path != "" { //nolint:errcheck // Flags are registered above.
		text, err := readContext(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		req.Context = text
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }() //nolint:errcheck // Best effort.

	res, err := a.svc.Ask(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintln(out, res.Response)
	if len(res.Suggestions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Suggestions:")
		for _, s := range res.Suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "\nSession: %s\n", res.SessionID)
	return nil
}

func readContext(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		//nolint:gosec // G304: path comes from the user on purpose.
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading context: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
