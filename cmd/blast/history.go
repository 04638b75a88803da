package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/blast/internal/history"
)

var historyFields = []string{history.FieldSender, history.FieldSubject}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Recently used senders and subjects",
}

var historyListCmd = &cobra.Command{
	Use:       "list [sender|subject]",
	Short:     "List history entries, most recent first",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: historyFields,
	RunE:      runHistoryList,
}

var historyClearCmd = &cobra.Command{
	Use:       "clear [sender|subject]",
	Short:     "Clear history entries",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: historyFields,
	RunE:      runHistoryClear,
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func selectedFields(args []string) []string {
	if len(args) == 1 {
		return args
	}
	return historyFields
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	for _, field := range selectedFields(args) {
		entries, err := store.List(field)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s:\n", field)
		if len(entries) == 0 {
			fmt.Fprintln(out, "  (empty)")
		}
		for _, e := range entries {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	for _, field := range selectedFields(args) {
		if err := store.Clear(field); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s history\n", field)
	}
	return nil
}
