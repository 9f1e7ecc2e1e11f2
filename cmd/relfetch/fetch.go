package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/domain"
)

func newFetchCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <version>",
		Short: "Download a release artifact and verify its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}

			versionID := args[0]
			dest := output
			if dest == "" {
				dest = defaultOutputPath(a.cfg, domain.CanonicalVersion(versionID))
			}
			dest = filepath.Clean(dest)

			result, err := a.pipeline.FetchVersion(cmd.Context(), versionID, dest, progressReporter())
			if err != nil {
				if mismatch, ok := domain.IsDigestMismatch(err); ok {
					fmt.Fprintln(os.Stderr, mismatch.Error())
				}
				return err
			}

			a.log.Info("artifact verified",
				zap.String("version", versionID),
				zap.String("path", result.DestinationPath),
				zap.Int64("bytes", result.ByteCount))
			fmt.Printf("%s  %s (%d bytes, %s)\n",
				result.Digest, result.DestinationPath, result.ByteCount, result.Algorithm)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to <prefix>-<version><ext>)")
	return cmd
}

// progressReporter renders transfer progress on stderr when it is a
// terminal. Unknown totals render as a byte spinner.
func progressReporter() domain.ProgressFunc {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	var bar *progressbar.ProgressBar
	return func(p domain.TransferProgress) {
		if bar == nil {
			total := p.TotalBytes
			if total == 0 {
				total = -1
			}
			bar = progressbar.DefaultBytes(total, "downloading")
		}
		bar.Set64(p.BytesTransferred)
	}
}
