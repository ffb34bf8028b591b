// Package cmd defines the CLI commands for the contactpipe executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contactpipe",
		Short: "Contact discovery pipeline for real-estate listings",
		Long: `contactpipe extracts, validates, scores, and deduplicates contact
information from scraped real-estate listings. It pulls listing batches from
configured sources, merges discovered contacts into the contact store, and
publishes discovery events for downstream consumers.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
