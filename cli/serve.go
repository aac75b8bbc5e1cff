package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/quillflow/quillflow/bus"
	"github.com/quillflow/quillflow/core"
	"github.com/quillflow/quillflow/llmprovider"
	qfotel "github.com/quillflow/quillflow/otel"
	"github.com/quillflow/quillflow/planner"
	"github.com/quillflow/quillflow/runner"
	"github.com/quillflow/quillflow/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow API server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: ~/.quillflow/quillflow.db)")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "Workflow schedule poll interval")
	cmd.Flags().String("otlp-endpoint", "", "OTLP HTTP trace endpoint (host:port), empty disables export")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for the OTLP endpoint")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	schedulePoll, _ := cmd.Flags().GetDuration("schedule-poll")
	tlsCert, _ := cmd.Flags().GetString("tls-cert")
	tlsKey, _ := cmd.Flags().GetString("tls-key")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	otlpInsecure, _ := cmd.Flags().GetBool("otlp-insecure")

	logger := slog.Default()

	dsn, err := resolveSQLiteDSN(cmd)
	if err != nil {
		return err
	}

	providers, err := qfotel.Setup(cmd.Context(), qfotel.SetupConfig{
		Endpoint: otlpEndpoint,
		Insecure: otlpInsecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		_ = providers.Shutdown(context.Background())
	}()

	// --- Stores ---
	workflowStore, err := server.NewSQLiteStore(server.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return fmt.Errorf("opening sqlite workflow store: %w", err)
	}
	defer func() {
		_ = workflowStore.Close()
	}()

	providerStore, err := server.NewSQLiteProviderStore(server.SQLiteProviderStoreConfig{DSN: dsn})
	if err != nil {
		return fmt.Errorf("opening sqlite provider store: %w", err)
	}
	defer func() {
		_ = providerStore.Close()
	}()

	eventStore, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return fmt.Errorf("opening sqlite event store: %w", err)
	}
	defer func() {
		_ = eventStore.Close()
	}()

	// --- Event plumbing ---
	eb := bus.NewMemBus(bus.MemBusConfig{})

	tracing := qfotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("quillflow/runner"))
	metrics, err := qfotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("quillflow/runner"))
	if err != nil {
		return fmt.Errorf("initializing runner metrics: %w", err)
	}
	pipeline := qfotel.NewPipeline(eb,
		bus.NewStoreSubscriber(eventStore, logger),
		tracing,
		metrics,
	)
	defer func() {
		_ = pipeline.Close(context.Background())
	}()

	// --- Planner and test runner ---
	llm, model, err := activeLLMClient(cmd.Context(), providerStore)
	if err != nil {
		return exitError(exitProvider, "resolving provider: %v", err)
	}

	var plan *planner.Planner
	var tracker *runner.Tracker
	if llm != nil {
		plan = planner.New(llm, model, logger)
	}
	tracker = runner.NewTracker(runner.New(llm, eb, logger), logger)
	defer tracker.Close()

	apiServer := server.NewServer(server.ServerConfig{
		Store:         workflowStore,
		ScheduleStore: workflowStore,
		ProviderStore: providerStore,
		Planner:       plan,
		Tracker:       tracker,
		Bus:           eb,
		EventStore:    eventStore,
		CORSOrigin:    corsOrigin,
		MaxBody:       maxBody,
		Logger:        logger,
	})

	scheduler, err := server.NewScheduler(server.SchedulerConfig{
		Workflows:    workflowStore,
		Schedules:    workflowStore,
		Tracker:      tracker,
		PollInterval: schedulePoll,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	scheduler.Start()
	defer func() {
		_ = scheduler.Stop(context.Background())
	}()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "QuillFlow listening on %s\n", addr)
		if tlsCert != "" && tlsKey != "" {
			errCh <- httpServer.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		_ = eb.Close()
		return nil
	case err := <-errCh:
		_ = eb.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// activeLLMClient builds an LLM client from the first active provider record.
// No active provider is not an error; the server then runs without the
// assistant endpoints.
func activeLLMClient(ctx context.Context, store server.ProviderStore) (core.LLMClient, string, error) {
	records, err := store.List(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		apiKey, err := store.GetAPIKey(ctx, rec.ID)
		if err != nil {
			return nil, "", err
		}
		client, err := llmprovider.NewClient(string(rec.Type), llmprovider.Config{APIKey: apiKey})
		if err != nil {
			return nil, "", err
		}
		return client, rec.DefaultModel, nil
	}
	return nil, "", nil
}

func resolveSQLiteDSN(cmd *cobra.Command) (string, error) {
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	dsn := strings.TrimSpace(sqlitePath)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("QUILLFLOW_SQLITE_PATH"))
	}
	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		dir := filepath.Join(home, ".quillflow")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dir, "quillflow.db")
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = filepath.Clean(dsn)
	}
	return dsn, nil
}
