package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/domain"
)

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <version>",
		Short: "Recover the vendor-recorded checksum for a release and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}

			versionID := args[0]
			digest, err := a.pipeline.RecoverChecksum(cmd.Context(), versionID)
			if errors.Is(err, domain.ErrNoDigestFound) {
				// Informational, but the process still signals the miss.
				a.log.Warn("page revealed no digest", zap.String("version", versionID))
				return err
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s  %s\n", digest, versionID)
			return nil
		},
	}
}
