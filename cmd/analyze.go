package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/detect"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type analyzeOptions struct {
	file       string
	serviceURL string
	timeout    time.Duration
	outputJSON bool
	noColor    bool
	quiet      bool
}

// NewAnalyzeCmd creates the 'analyze' command. It runs the same analysis
// as POST /analyze-log without starting the server or touching any store.
func NewAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze [log text]",
		Short: "Analyze a log line",
		Long: `Classify a log line with the remote analysis service, falling back to the
built-in rules when the service is not configured or fails.

The text is read from the arguments, from --file, or from stdin when the only
argument is "-".`,
		Example: `  vigil analyze "ERROR: Unauthorized access attempt"
  vigil analyze --file incident.log --json
  journalctl -n 1 | vigil analyze -`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readAnalyzeInput(cmd.InOrStdin(), opts.file, args)
			if err != nil {
				return err
			}
			return runAnalyze(cmd, opts, text)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read log text from a file")
	cmd.Flags().StringVar(&opts.serviceURL, "url", "", "Analysis service URL (defaults to VIGIL_ANALYSIS_URL / ANALYSIS_SERVICE_URL)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Remote analysis timeout")
	cmd.Flags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func readAnalyzeInput(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", errors.New("pass log text either as arguments or with --file, not both")
	case file != "":
		if err := validateFilePath(file); err != nil {
			return "", err
		}
		info, err := os.Stat(file)
		if err != nil {
			return "", fmt.Errorf("failed to stat file: %w", err)
		}
		if info.Size() > maxInputFileSize {
			return "", fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxInputFileSize)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), nil
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(io.LimitReader(stdin, maxInputFileSize))
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	default:
		return strings.Join(args, " "), nil
	}
}

func runAnalyze(cmd *cobra.Command, opts *analyzeOptions, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyLogText
	}

	analyzer, err := newCLIAnalyzer(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	var s *spinner.Spinner
	if !opts.outputJSON && !opts.quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " Analyzing..."
		s.Start()
	}

	analysis, err := analyzer.Analyze(ctx, text)

	if s != nil {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	detect.Triage(analysis, text)

	out := cmd.OutOrStdout()
	if opts.outputJSON {
		return printJSON(out, analysis)
	}
	printAnalysis(out, analysis)
	return nil
}

func newCLIAnalyzer(opts *analyzeOptions) (detect.Analyzer, error) {
	logger := zap.NewNop().Sugar()

	serviceURL := opts.serviceURL
	if serviceURL == "" {
		serviceURL = os.Getenv("VIGIL_ANALYSIS_URL")
	}
	if serviceURL == "" {
		serviceURL = os.Getenv("ANALYSIS_SERVICE_URL")
	}
	if serviceURL == "" {
		return detect.NewFallbackAnalyzer(nil, logger), nil
	}

	breaker := core.DefaultCircuitBreakerConfig()
	remote, err := detect.NewRemoteAnalyzer(config.AnalysisConfig{
		URL:         serviceURL,
		Timeout:     opts.timeout,
		MaxFailures: breaker.MaxFailures,
		Cooldown:    breaker.Cooldown,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis client: %w", err)
	}
	return detect.NewFallbackAnalyzer(remote, logger), nil
}

func printAnalysis(w io.Writer, a *core.Analysis) {
	fmt.Fprintln(w)
	printSection(w, "Analysis")
	printField(w, "Severity", formatSeverity(a.Severity))
	printField(w, "Category", a.Category)
	printField(w, "Priority", fmt.Sprintf("%s (score %.2f)", a.Priority, a.PriorityScore))
	printField(w, "Engine", a.Engine)
	if a.FallbackReason != "" {
		printField(w, "Fallback reason", warningColor.Sprint(a.FallbackReason))
	}
	printField(w, "Summary", a.Summary)
	if a.RootCause != "" {
		printField(w, "Root cause", a.RootCause)
	}
	if a.RemediationPlaybook != "" {
		printField(w, "Playbook", a.RemediationPlaybook)
	}

	if len(a.Indicators) > 0 {
		fmt.Fprintln(w)
		printSection(w, "Indicators")
		for _, ind := range a.Indicators {
			verdict := successColor.Sprint("clean")
			if ind.Malicious {
				verdict = errorColor.Sprint("malicious")
			}
			fmt.Fprintf(w, "  %-7s %-40s score %3d  %s\n", ind.Type, ind.Value, ind.AbuseScore, verdict)
		}
	}

	fmt.Fprintln(w)
	printSection(w, "Recommended actions")
	for i, action := range a.RecommendedActions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, action)
	}
}
