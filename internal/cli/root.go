// Package cli implements diagctl, an offline console for the question
// catalog and the diagnostic flow.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/terra-clan/legal-diagnostic/internal/catalog"
)

// Version is injected at build time via -ldflags
var Version = "dev"

type options struct {
	catalogDir string
	noColor    bool
}

// NewRootCommand creates the diagctl root command
func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "diagctl",
		Short: "Inspect the legal diagnostic catalog and run diagnostics offline",
		Long: `diagctl reads the same question catalog as the diagnostic engine.

It lists the legal areas and their questions, and can walk through a
complete two-stage diagnostic on the terminal without a server.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.catalogDir, "catalog", "", "catalog directory (defaults to the built-in catalog)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(newAreasCommand(opts))
	cmd.AddCommand(newQuestionsCommand(opts))
	cmd.AddCommand(newRunCommand(opts))

	return cmd
}

func (o *options) loadCatalog() (*catalog.Loader, error) {
	loader := catalog.NewLoader()

	var err error
	if o.catalogDir != "" {
		err = loader.LoadFromDir(o.catalogDir)
	} else {
		err = loader.LoadDefaults()
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return loader, nil
}
