package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/biodiversity-meets-data/occmirror/server/query"
	"github.com/c-bata/go-prompt"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive SQL shell",
	Long: `Start an interactive SQL shell against the mirror.

Snapshot URL references are redirected to the local copy the same way the
sql command does. Type 'exit' or press Ctrl+D to leave.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	logger := cliLogger(cmd)

	cfg, err := findConfig()
	if err != nil {
		pterm.Error.Println("No mirror configuration found")
		return err
	}

	m, err := openMirror(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	rewriter := query.NewRewriter(m.store, m.paths, cfg.Mirror.DatasetPrefix, logger)
	engine, err := query.NewEngine(cfg.Query, rewriter, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	pterm.Info.Println("occmirror SQL shell; type 'exit' to leave, 'help' for hints")

	var history []string
	p := prompt.New(
		shellExecutor(engine, &history),
		shellCompleter,
		prompt.OptionTitle("occmirror SQL shell"),
		prompt.OptionPrefix("occmirror> "),
		prompt.OptionPrefixTextColor(prompt.Blue),
		prompt.OptionSuggestionTextColor(prompt.Green),
		prompt.OptionMaxSuggestion(12),
	)
	p.Run()
	return nil
}

func shellCompleter(d prompt.Document) []prompt.Suggest {
	suggestions := []prompt.Suggest{
		{Text: "SELECT", Description: "Query mirrored snapshot data"},
		{Text: "WITH", Description: "Common table expression"},
		{Text: "DESCRIBE", Description: "Describe a result's schema"},
		{Text: "EXPLAIN", Description: "Show the query plan"},
		{Text: "SUMMARIZE", Description: "Column statistics for a table"},
		{Text: "read_parquet(", Description: "Scan Parquet files"},
		{Text: "help", Description: "Show shell hints"},
		{Text: "history", Description: "Show command history"},
		{Text: "exit", Description: "Leave the shell"},
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func shellExecutor(engine query.Engine, history *[]string) func(string) {
	return func(input string) {
		input = strings.TrimSpace(input)
		if input == "" {
			return
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			pterm.Println("Bye")
			os.Exit(0)
		case "help":
			pterm.Println("Enter a SQL query, or:")
			pterm.Println("  history    show command history")
			pterm.Println("  exit       leave the shell")
			pterm.Println("Reference snapshots as s3://gbif-open-data-<region>/occurrence/<date|latest>/occurrence.parquet/*")
			return
		case "history":
			for i, entry := range *history {
				fmt.Printf("  %d: %s\n", i+1, entry)
			}
			return
		}

		if len(*history) == 0 || (*history)[len(*history)-1] != input {
			*history = append(*history, input)
		}

		result, err := engine.ExecuteQuery(context.Background(), input)
		if err != nil {
			pterm.Error.Printf("%v\n", err)
			return
		}
		printResult(result)
	}
}
