package cmd

import (
	"github.com/bianoble/updater/pkg/updater"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore files from an interrupted update",
	Long: `Reads the update journal left behind by an update that was killed or
could not finish its own rollback, restores every file it replaced from the
.old backups, removes files it added, and deletes the journal.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := updater.New(clientOptions())
		if err != nil {
			return err
		}
		res, err := client.Rollback()
		if err != nil {
			return err
		}
		info("Rolled back update %s: %d file(s) restored.", res.RunID, res.Restored)
		if res.Removed > 0 {
			detail("%d downloaded file(s) removed", res.Removed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}
