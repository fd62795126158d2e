package cmd

import (
	"errors"
	"fmt"

	"github.com/bianoble/updater/pkg/updater"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [platform] [channel]",
	Short: "Download and install the latest package",
	Long: `Resolves the package for the platform and channel from the update manifest,
downloads and verifies it, and installs its files. Existing files are backed
up first and restored if anything fails. Platform defaults to the running
system and channel to the configured one ("stable" unless set).`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		obs := newTerminalObserver(cmd.OutOrStdout(), noColor, quiet)

		client, err := newClientFor(obs, args)
		if err != nil {
			return err
		}
		if client.PendingRollback() {
			return errors.New("a previous update was interrupted; run 'updater rollback' first")
		}
		detail("platform %s, channel %s", client.Platform(), client.Channel())
		detail("manifest %s", client.ManifestPath())
		detail("installing into %s", client.AppDir())

		res, err := client.Update(cmd.Context())
		obs.endBar()
		if err != nil {
			switch {
			case res.Cancelled:
				return errors.New("update cancelled")
			case res.Phase == updater.Failed && client.PendingRollback():
				return fmt.Errorf("update failed and could not be rolled back; run 'updater rollback': %w", err)
			case res.Phase == updater.RolledBack:
				return fmt.Errorf("update failed while %s; previous version restored", res.FailedIn)
			default:
				return fmt.Errorf("update failed while %s", res.FailedIn)
			}
		}

		info("Installed %d file(s) from %s (%s downloaded)", res.Installed, res.File, humanize.Bytes(uint64(res.Bytes)))
		detail("sha1 %s", res.SHA1)
		detail("run %s", res.RunID)
		return nil
	},
}

// newClientFor applies the optional positional platform and channel.
func newClientFor(obs updater.Observer, args []string) (*updater.Client, error) {
	opts := clientOptions()
	opts.Observer = obs
	if len(args) > 0 {
		opts.Platform = args[0]
	}
	if len(args) > 1 {
		opts.Channel = args[1]
	}
	return updater.New(opts)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
