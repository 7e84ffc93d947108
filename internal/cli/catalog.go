package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

func newAreasCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "areas",
		Short: "List the legal areas in classifier order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			for _, area := range cat.ListAreas() {
				bold.Fprintf(out, "%-16s", area.ID)
				fmt.Fprintf(out, " %s", area.Name)
				if area.FullyImplemented {
					green.Fprint(out, "  [implementada]")
				} else {
					yellow.Fprint(out, "  [próximamente]")
				}
				fmt.Fprintf(out, "  %d preguntas\n", len(cat.StageTwoQuestions(area.ID)))
			}
			return nil
		},
	}
}

func newQuestionsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "questions [AREA]",
		Short: "List the Stage-One questions, or the Stage-Two questions of an area",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)

			if len(args) == 0 {
				for i, q := range cat.StageOneQuestions() {
					fmt.Fprintf(out, "%2d. %s\n", i+1, q.Text)
					targets := make([]string, 0, len(q.MapsTo))
					for _, id := range q.MapsTo {
						targets = append(targets, string(id))
					}
					if len(targets) == 0 {
						targets = append(targets, "-")
					}
					cyan.Fprintf(out, "    %s -> %s\n", q.ID, strings.Join(targets, ", "))
				}
				return nil
			}

			id := models.LawAreaID(strings.ToUpper(args[0]))
			area := cat.GetArea(id)
			if area == nil {
				return fmt.Errorf("unknown area: %s", args[0])
			}

			questions := cat.StageTwoQuestions(id)
			if len(questions) == 0 {
				fmt.Fprintf(out, "%s no tiene preguntas de detalle\n", area.Name)
				return nil
			}
			for i, q := range questions {
				fmt.Fprintf(out, "%2d. %s\n", i+1, q.Text)
				if q.Reference != "" {
					cyan.Fprintf(out, "    %s (Ref: %s)\n", q.ID, q.Reference)
				} else {
					cyan.Fprintf(out, "    %s\n", q.ID)
				}
			}
			return nil
		},
	}
}
