package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillflow/quillflow/actions"
	"github.com/quillflow/quillflow/assistant"
	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
	"github.com/quillflow/quillflow/loader"
)

// NewChatCmd creates the "chat" subcommand.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive assistant session against a running server",
		RunE:  runChat,
	}

	cmd.Flags().String("server", "http://localhost:8080", "Server base URL")
	cmd.Flags().String("workflow", "", "Workflow ID for server-side context")
	cmd.Flags().StringP("file", "f", "", "Seed the canvas from a workflow file")
	cmd.Flags().String("model", "", "Model override (default: server's active provider model)")
	cmd.Flags().StringP("output", "o", "", "Write the final canvas definition to a file on exit")

	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	serverURL, _ := cmd.Flags().GetString("server")
	workflowID, _ := cmd.Flags().GetString("workflow")
	filePath, _ := cmd.Flags().GetString("file")
	model, _ := cmd.Flags().GetString("model")
	outputPath, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()

	logger := slog.Default()
	client := assistant.NewClient(serverURL, logger)

	cv := canvas.New()
	if filePath != "" {
		def, err := loader.LoadDefinition(filePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return exitError(exitFileNotFound, "file not found: %s", filePath)
			}
			return exitError(exitInputParse, "loading workflow: %v", err)
		}
		cv, err = canvas.FromDefinition(def)
		if err != nil {
			return exitError(exitInputParse, "building canvas: %v", err)
		}
	}

	if model == "" {
		if cfg, err := client.FetchProviderConfig(cmd.Context()); err == nil {
			model = cfg.Model
		}
	}

	conv := assistant.NewConversation(assistant.Config{
		Client:     client,
		Canvas:     cv,
		Applier:    actions.New(cv, actions.WithNotifier(actions.NewLogNotifier(logger))),
		WorkflowID: workflowID,
		Model:      model,
		Listener:   &chatListener{out: out},
		Logger:     logger,
	})
	defer conv.Close()

	fmt.Fprintln(out, "Describe the workflow you want to build. Ctrl-D exits.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			break
		}

		msg, err := conv.Send(cmd.Context(), text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if msg != nil {
			printAssistantMessage(out, msg)
		}
	}

	if outputPath != "" {
		if err := writeCanvasFile(cv, outputPath); err != nil {
			return exitError(exitRuntime, "writing canvas: %v", err)
		}
		fmt.Fprintf(out, "Canvas written to %s\n", outputPath)
	}
	return scanner.Err()
}

// chatListener prints conversation side effects to the terminal.
type chatListener struct {
	out io.Writer
}

func (l *chatListener) PhaseChanged(phase core.Phase) {
	fmt.Fprintf(l.out, "[phase] %s\n", phase)
}

func (l *chatListener) MessageAppended(msg *core.AIMessage) {
	if msg.Role == "assistant" && msg.TestResult != nil {
		printAssistantMessage(l.out, msg)
	}
}

func (l *chatListener) Notification(level, text string) {
	fmt.Fprintf(l.out, "[%s] %s\n", level, text)
}

func printAssistantMessage(w io.Writer, msg *core.AIMessage) {
	if msg.Content != "" {
		fmt.Fprintln(w, msg.Content)
	}
	for _, q := range msg.InteractiveQuestions {
		fmt.Fprintf(w, "? %s\n", q.Question)
		for i, opt := range q.Options {
			fmt.Fprintf(w, "  %d) %s\n", i+1, opt)
		}
	}
	if msg.TestResult != nil {
		printExecution(w, msg.TestResult, "text")
	}
}

func writeCanvasFile(cv *canvas.Canvas, path string) error {
	data, err := json.MarshalIndent(cv.Definition(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
