package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quillflow/quillflow/bus"
	"github.com/quillflow/quillflow/core"
	"github.com/quillflow/quillflow/llmprovider"
	"github.com/quillflow/quillflow/loader"
	"github.com/quillflow/quillflow/runner"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow file locally",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("input", "i", "", "Input data as inline JSON string")
	cmd.Flags().StringP("input-file", "f", "", "Input data from a JSON file")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().Bool("dry-run", false, "Validate only, do not execute")
	cmd.Flags().String("provider", "", "LLM provider name (anthropic | openai | ollama)")
	cmd.Flags().String("api-key", "", "LLM provider API key (default: QUILLFLOW_API_KEY)")
	cmd.Flags().String("model", "", "Model override for process nodes")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	model, _ := cmd.Flags().GetString("model")
	out := cmd.OutOrStdout()

	def, err := loader.LoadDefinition(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			printDiagnostics(out, diagErr.Diagnostics, format)
			return exitError(exitValidation, "validation failed")
		}
		return exitError(exitInputParse, "loading workflow: %v", err)
	}

	if dryRun {
		fmt.Fprintln(out, "Valid!")
		return nil
	}

	inputs, err := resolveRunInputs(cmd)
	if err != nil {
		return exitError(exitInputParse, "parsing input: %v", err)
	}

	llm, err := resolveRunClient(cmd)
	if err != nil {
		return exitError(exitProvider, "creating provider: %v", err)
	}

	logger := slog.Default()
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer func() {
		_ = eb.Close()
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	r := runner.New(llm, eb, logger)
	exec, err := r.Run(ctx, uuid.NewString(), def, runner.Options{
		Inputs: inputs,
		Model:  model,
	})
	if err != nil {
		return exitError(exitRuntime, "execution error: %v", err)
	}

	printExecution(out, exec, format)
	if !exec.Success {
		return exitError(exitRuntime, "workflow failed")
	}
	return nil
}

// resolveRunInputs parses --input or --input-file into the seed input map.
func resolveRunInputs(cmd *cobra.Command) (map[string]any, error) {
	inline, _ := cmd.Flags().GetString("input")
	file, _ := cmd.Flags().GetString("input-file")

	var raw []byte
	switch {
	case inline != "" && file != "":
		return nil, errors.New("--input and --input-file are mutually exclusive")
	case inline != "":
		raw = []byte(inline)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = data
	default:
		return nil, nil
	}

	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

// resolveRunClient builds an LLM client from flags and environment. Nil is
// returned when no provider is configured; workflows without process nodes
// still run.
func resolveRunClient(cmd *cobra.Command) (core.LLMClient, error) {
	name, _ := cmd.Flags().GetString("provider")
	if name == "" {
		name = strings.TrimSpace(os.Getenv("QUILLFLOW_PROVIDER"))
	}
	if name == "" {
		return nil, nil
	}

	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("QUILLFLOW_API_KEY"))
	}

	return llmprovider.NewClient(name, llmprovider.Config{APIKey: apiKey})
}

func printExecution(w io.Writer, exec *core.TestExecution, format string) {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(exec)
		return
	}

	for _, result := range exec.NodeResults {
		line := fmt.Sprintf("%-9s %s (%dms)", result.Status, result.NodeName, result.DurationMs)
		if result.Error != "" {
			line += ": " + result.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	if exec.Success {
		fmt.Fprintf(w, "Completed in %dms", exec.DurationMs)
		if exec.TotalTokens > 0 {
			fmt.Fprintf(w, " (%d tokens)", exec.TotalTokens)
		}
		fmt.Fprintln(w)
		if exec.Output != "" {
			fmt.Fprintln(w, exec.Output)
		}
	} else {
		fmt.Fprintf(w, "Failed: %s\n", exec.Error)
	}
}
