package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/app"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/report"
	"github.com/moolen/sleuth/internal/tui"
)

var (
	analyzeFile        string
	analyzeFields      []string
	analyzeInteractive bool
	analyzeOutput      string
	analyzeExport      string
	analyzeThreshold   float64
	analyzeMaxSimilar  int
	analyzeCorpusPath  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [description]",
	Short: "Analyze an incident against the historical corpus",
	Long: `Analyze one incident. The description is taken from, in order:
the arguments, --file, --field key=value pairs, the interactive editor
(--interactive), or stdin. Stdin is read until an empty line or EOF.`,
	Example: `  sleuth analyze "VPN drops every 10 minutes for remote staff"
  sleuth analyze --file ticket.txt --output json
  sleuth analyze --field "Summary=checkout 502s" --field "Service=payments"
  sleuth analyze --interactive --corpus incidents.xlsx`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "Read the description from a file")
	analyzeCmd.Flags().StringArrayVar(&analyzeFields, "field", nil, "Structured incident detail as key=value (repeatable, keeps order)")
	analyzeCmd.Flags().BoolVarP(&analyzeInteractive, "interactive", "i", false, "Open the interactive editor")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "text", "Output format: text, markdown, json or yaml")
	analyzeCmd.Flags().StringVar(&analyzeExport, "export", "", "Also write the result to this file (format from extension)")
	analyzeCmd.Flags().Float64Var(&analyzeThreshold, "threshold", analysis.DefaultThreshold, "Minimum similarity score (0-100)")
	analyzeCmd.Flags().IntVar(&analyzeMaxSimilar, "max-similar", analysis.DefaultMaxSimilar, "Maximum number of similar incidents")
	analyzeCmd.Flags().StringVar(&analyzeCorpusPath, "corpus", "", "Load this corpus file first unless the collection already holds incidents")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger := logging.GetLogger("analyze")

	format, err := report.ParseFormat(analyzeOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if analyzeCorpusPath != "" {
		cfg.Corpus.Source = analyzeCorpusPath
	}

	req := analysis.Request{}
	if cmd.Flags().Changed("threshold") {
		req.Threshold = &analyzeThreshold
	}
	if cmd.Flags().Changed("max-similar") {
		req.MaxSimilar = &analyzeMaxSimilar
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	if cfg.Corpus.Source != "" {
		rep, err := a.EnsureCorpus(ctx, cfg.Corpus.Source, progressPrinter(cmd.ErrOrStderr()))
		if err != nil {
			return fmt.Errorf("failed to load corpus: %w", err)
		}
		if !rep.Skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "Loaded %d incidents from %s\n", rep.Inserted, rep.Source)
		}
	}

	var result *incident.AnalysisResult
	if analyzeInteractive {
		if !tui.IsTerminal() {
			return fmt.Errorf("--interactive requires a terminal")
		}
		result, err = tui.Run(ctx, func(ctx context.Context, desc string) (*incident.AnalysisResult, error) {
			r := req
			r.Description = desc
			return a.Analyze(ctx, r)
		})
		if err != nil {
			return err
		}
	} else {
		desc, err := readDescription(cmd, args)
		if err != nil {
			return err
		}
		req.Description = desc
		logger.Debug("Analyzing incident: %s", logging.Snippet(desc, 80))
		result, err = a.Analyze(ctx, req)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), result, format); err != nil {
			return err
		}
	}

	if analyzeExport != "" {
		if err := report.WriteFile(analyzeExport, result, ""); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported analysis to %s\n", analyzeExport)
	}
	return nil
}

// readDescription resolves the incident text from args, --file, --field or
// stdin.
func readDescription(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return nonEmpty(strings.Join(args, " "))
	}
	if analyzeFile != "" {
		data, err := os.ReadFile(analyzeFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", analyzeFile, err)
		}
		return nonEmpty(string(data))
	}
	if len(analyzeFields) > 0 {
		fields, err := parseFields(analyzeFields)
		if err != nil {
			return "", err
		}
		return nonEmpty(incident.DescriptionFromFields(fields))
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Please describe the incident (finish with an empty line):")
	}
	desc, err := readUntilBlankLine(in)
	if err != nil {
		return "", err
	}
	return nonEmpty(desc)
}

// readUntilBlankLine reads lines until the first empty line or EOF.
func readUntilBlankLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

func parseFields(pairs []string) ([]incident.DetailField, error) {
	fields := make([]incident.DetailField, 0, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --field %q (want key=value)", p)
		}
		fields = append(fields, incident.DetailField{Key: key, Value: value})
	}
	return fields, nil
}

func nonEmpty(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", fmt.Errorf("no incident description given")
	}
	return desc, nil
}

// printResult writes the result. Markdown on a terminal is rendered.
func printResult(w io.Writer, res *incident.AnalysisResult, format report.Format) error {
	if format == report.FormatMarkdown {
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			width := report.DefaultWrap
			if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 20 {
				width = cols - 4
			}
			out, err := report.Terminal(res, width)
			if err == nil {
				_, err = io.WriteString(w, out)
				return err
			}
		}
	}
	return report.Write(w, res, format)
}
