package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/service"
)

type sanitizeOptions struct {
	tenant    string
	session   string
	output    string
	roundtrip bool
}

// sanitizeReport is what phictl prints for a sanitize run. It never includes original values.
type sanitizeReport struct {
	SanitizedText string                   `json:"sanitized_text" yaml:"sanitized_text"`
	MappingID     string                   `json:"mapping_id,omitempty" yaml:"mapping_id,omitempty"`
	Persisted     bool                     `json:"persisted" yaml:"persisted"`
	Reason        string                   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Counts        map[privacy.Category]int `json:"counts" yaml:"counts"`
	Restored      string                   `json:"restored,omitempty" yaml:"restored,omitempty"`
	Warning       string                   `json:"warning,omitempty" yaml:"warning,omitempty"`
}

func newSanitizeCmd(global *globalOptions) *cobra.Command {
	opts := &sanitizeOptions{}

	cmd := &cobra.Command{
		Use:   "sanitize [text]",
		Short: "Redact PHI from text (argument or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}

			env, err := newEnvironment(global)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			owner := privacy.OwnerScope{TenantID: opts.tenant, SessionID: opts.session}
			policy := env.tenants.Policy(opts.tenant)

			outcome, err := env.service.Sanitize(ctx, owner, text, policy)
			report := sanitizeReport{}
			var persistErr *service.PersistenceError
			switch {
			case errors.As(err, &persistErr):
				report.Warning = "mapping was not stored; re-identification will not be possible"
			case err != nil:
				return err
			}

			report.SanitizedText = outcome.Result.SanitizedText
			report.MappingID = outcome.Result.MappingID
			report.Persisted = outcome.Persisted
			report.Reason = outcome.Reason
			report.Counts = privacy.CategoryCounts(outcome.Result.Matches)

			if opts.roundtrip && outcome.Persisted {
				restored, err := env.service.Reidentify(ctx, owner, outcome.Result.MappingID, outcome.Result.SanitizedText, policy, true)
				if err != nil {
					return err
				}
				report.Restored = restored.OriginalText
			}

			return printReport(cmd.OutOrStdout(), opts.output, report, global.noColor)
		},
	}

	cmd.Flags().StringVarP(&opts.tenant, "tenant", "t", "default", "tenant whose policy applies")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "session that owns the mapping")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json, or yaml")
	cmd.Flags().BoolVar(&opts.roundtrip, "roundtrip", false, "re-identify the result in the same run")

	return cmd
}

type reidentifyOptions struct {
	tenant    string
	session   string
	mappingID string
	approved  bool
}

func newReidentifyCmd(global *globalOptions) *cobra.Command {
	opts := &reidentifyOptions{}

	cmd := &cobra.Command{
		Use:   "reidentify [text]",
		Short: "Restore placeholders using a stored mapping",
		Long: `Restore placeholders using a mapping from the configured store.
With the memory driver nothing survives between runs; use --roundtrip on
sanitize instead, or point the config at redis, postgres, or bolt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}

			env, err := newEnvironment(global)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			owner := privacy.OwnerScope{TenantID: opts.tenant, SessionID: opts.session}
			result, err := env.service.Reidentify(ctx, owner, opts.mappingID, text, env.tenants.Policy(opts.tenant), opts.approved)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.OriginalText)
			if len(result.Matches) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no placeholders restored")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.tenant, "tenant", "t", "default", "tenant whose policy applies")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "session that owns the mapping")
	cmd.Flags().StringVarP(&opts.mappingID, "mapping-id", "m", "", "mapping id returned by sanitize")
	cmd.Flags().BoolVar(&opts.approved, "approved", false, "confirm approval for tenants that require it")
	_ = cmd.MarkFlagRequired("mapping-id")

	return cmd
}

// inputText takes the single argument, or all of stdin when there is none
func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func printReport(w io.Writer, format string, report sanitizeReport, noColor bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	case "text":
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	if noColor {
		color.NoColor = true
	}
	highlight := color.New(color.FgYellow, color.Bold)
	dim := color.New(color.FgCyan)

	fmt.Fprintln(w, highlightPlaceholders(report.SanitizedText, highlight))
	if report.MappingID != "" {
		dim.Fprintf(w, "mapping: %s (persisted: %t)\n", report.MappingID, report.Persisted)
	}
	if report.Reason != "" {
		dim.Fprintf(w, "not persisted: %s\n", report.Reason)
	}
	for _, c := range privacy.AllCategories {
		if n := report.Counts[c]; n > 0 {
			dim.Fprintf(w, "  %-15s %d\n", c, n)
		}
	}
	if report.Restored != "" {
		dim.Fprintf(w, "restored: ")
		fmt.Fprintln(w, report.Restored)
	}
	if report.Warning != "" {
		color.New(color.FgRed).Fprintf(w, "warning: %s\n", report.Warning)
	}
	return nil
}

func highlightPlaceholders(text string, c *color.Color) string {
	spans := privacy.PlaceholderSpans(text)
	if len(spans) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, span := range spans {
		b.WriteString(text[last:span[0]])
		b.WriteString(c.Sprint(text[span[0]:span[1]]))
		last = span[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
