package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow file without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}

	diags := validateDefinition(data, filePath)
	printDiagnostics(out, diags, format)

	hasErrs := canvas.HasErrors(diags)
	hasWarns := len(warnings(diags)) > 0

	if hasErrs || (strict && hasWarns) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// validateDefinition parses a definition file and returns its diagnostics.
// Parse failures are reported as a single synthetic diagnostic.
func validateDefinition(data []byte, filePath string) []canvas.Diagnostic {
	def, err := loader.ParseDefinition(data, filePath)
	if err != nil {
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			return diagErr.Diagnostics
		}
		return []canvas.Diagnostic{{
			Code:     "WF-000",
			Severity: canvas.SeverityError,
			Message:  fmt.Sprintf("Failed to parse file: %v", err),
		}}
	}
	return def.Validate()
}

// printDiagnostics writes diagnostics to the writer in the requested format,
// followed by a summary line (for text format).
func printDiagnostics(w io.Writer, diags []canvas.Diagnostic, format string) {
	if format == "json" {
		if diags == nil {
			diags = []canvas.Diagnostic{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(diags)
		return
	}

	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := canvas.Errors(diags)
	warns := warnings(diags)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0 && len(warns) > 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func warnings(diags []canvas.Diagnostic) []canvas.Diagnostic {
	var out []canvas.Diagnostic
	for _, d := range diags {
		if d.Severity == canvas.SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
