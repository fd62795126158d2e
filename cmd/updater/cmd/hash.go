package cmd

import (
	"fmt"
	"os"

	"github.com/bianoble/updater/internal/digest"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var hashExpect string

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the SHA-1 of files",
	Long: `Prints the SHA-1 digest of each file in the form used by the update
manifest. With --expect, the single file given must match the digest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var want digest.Digest
		if hashExpect != "" {
			if len(args) != 1 {
				return fmt.Errorf("--expect takes exactly one file, got %d", len(args))
			}
			var err error
			if want, err = digest.ParseHex(hashExpect); err != nil {
				return fmt.Errorf("--expect: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		for _, path := range args {
			fi, err := os.Stat(path)
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}
			sum, err := digest.HashFile(path)
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintf(out, "%s  %s  (%s)\n", sum, path, humanize.Bytes(uint64(fi.Size())))
			} else {
				fmt.Fprintf(out, "%s  %s\n", sum, path)
			}
			if hashExpect != "" && sum != want {
				return fmt.Errorf("%s: sha1 mismatch, expected %s", path, want)
			}
		}
		return nil
	},
}

func init() {
	hashCmd.Flags().StringVar(&hashExpect, "expect", "", "fail unless the file has this SHA-1")
	rootCmd.AddCommand(hashCmd)
}
