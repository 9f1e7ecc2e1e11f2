package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the versions known to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}

			records := a.catalog.Versions()
			if len(records) == 0 {
				fmt.Println("catalog is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tALGORITHM\tDIGEST\tRELEASED")
			for _, rec := range records {
				digest := rec.Digest
				if digest == "" {
					digest = "-"
				}
				algorithm := string(rec.Algorithm)
				if algorithm == "" {
					algorithm = "-"
				}
				released := rec.ReleaseDate
				if released == "" {
					released = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Version, algorithm, digest, released)
			}
			return w.Flush()
		},
	}
}
