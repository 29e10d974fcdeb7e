package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"glucosense/db"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List registered training runs as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.Path == "" {
			return eris.New("runs: database.path is not configured")
		}
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListTrainingRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "maximum runs to list, newest first (0 for all)")
	rootCmd.AddCommand(runsCmd)
}
