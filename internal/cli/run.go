package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/terra-clan/legal-diagnostic/internal/catalog"
	"github.com/terra-clan/legal-diagnostic/internal/diagnostic"
	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// errInputEnded is returned when stdin closes mid-diagnostic
var errInputEnded = errors.New("input ended before the diagnostic finished")

func newRunCommand(opts *options) *cobra.Command {
	var threshold int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Walk through a diagnostic on the terminal",
		Long: `Run asks the Stage-One questions, classifies the answers into a legal
area, asks that area's detail questions and prints the summary and the
recommended services. Answer yes/no questions with s/si/y/yes or n/no.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}
			return runDiagnostic(cmd.InOrStdin(), cmd.OutOrStdout(), cat, threshold)
		},
	}

	cmd.Flags().IntVar(&threshold, "threshold", diagnostic.DefaultRecommendationThreshold, "affirmative answers needed to recommend the paid tiers")
	return cmd
}

func runDiagnostic(in io.Reader, out io.Writer, cat *catalog.Loader, threshold int) error {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed)

	state, err := diagnostic.NewState("diagctl", cat)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	stage := models.TestStage("")

	for {
		prompt, ok := diagnostic.CurrentPrompt(state, cat)
		if !ok {
			break
		}

		if prompt.Stage != stage {
			stage = prompt.Stage
			if stage == models.StageOne {
				cyan.Fprintln(out, "Evaluación inicial")
			} else {
				cyan.Fprintf(out, "Detalles: %s\n", state.DeterminedArea.Name)
			}
		}

		answer, err := ask(scanner, out, bold, prompt)
		if err != nil {
			return err
		}

		next, err := diagnostic.Transition(state, diagnostic.AnswerSubmitted{Answer: answer}, cat)
		if err != nil {
			red.Fprintf(out, "  %v\n", err)
			continue
		}
		state = next
	}

	if state.Stage == models.StageResultsSimulation {
		if state, err = diagnostic.Transition(state, diagnostic.ResultsReady{}, cat); err != nil {
			return err
		}
	}
	if state.DeterminedArea == nil {
		return fmt.Errorf("diagnostic ended in %s without an area", state.Stage)
	}

	printResult(out, state, cat, threshold)
	return nil
}

// ask prompts until the line parses as an answer for the question
func ask(scanner *bufio.Scanner, out io.Writer, bold *color.Color, p diagnostic.Prompt) (models.Answer, error) {
	red := color.New(color.FgRed)

	for {
		bold.Fprintf(out, "[%d/%d] %s", p.Index+1, p.Total, p.Text)
		if p.Kind == models.QuestionText {
			fmt.Fprint(out, " > ")
		} else {
			fmt.Fprint(out, " (s/n) > ")
		}

		if !scanner.Scan() {
			fmt.Fprintln(out)
			if err := scanner.Err(); err != nil {
				return models.Answer{}, err
			}
			return models.Answer{}, errInputEnded
		}
		line := strings.TrimSpace(scanner.Text())

		if p.Kind == models.QuestionText {
			return models.TextAnswer(p.ID, line), nil
		}
		if value, ok := parseYesNo(line); ok {
			return models.YesNo(p.ID, value), nil
		}
		red.Fprintln(out, "  responda s o n")
	}
}

func parseYesNo(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "s", "si", "sí", "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	return false, false
}

func printResult(out io.Writer, state models.DiagnosticState, cat *catalog.Loader, threshold int) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	area := *state.DeterminedArea
	summary := diagnostic.Summarize(diagnostic.InputFor(state, cat, cat.LegalFramework(area.ID)))
	rec := diagnostic.Recommend(area, diagnostic.AffirmativeCount(state.StageTwoAnswers), cat.ListServices(), threshold)

	fmt.Fprintln(out)
	cyan.Fprintf(out, "Área: %s\n", area.Name)
	if state.Fallback {
		yellow.Fprintln(out, "  (ninguna respuesta apuntó a un área; se usa el área por defecto)")
	}
	fmt.Fprintln(out, summary.Text)

	fmt.Fprintln(out)
	cyan.Fprintln(out, "Servicios")
	for _, opt := range rec.Options {
		price := "cotización"
		if opt.Price > 0 {
			price = fmt.Sprintf("$%d COP", opt.Price)
		}
		line := fmt.Sprintf("  %-20s %-14s %s", opt.ID, price, opt.Title)
		if opt.Recommended {
			green.Fprintln(out, line+"  *recomendado*")
		} else {
			fmt.Fprintln(out, line)
		}
	}
}
