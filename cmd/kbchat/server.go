package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/srhkb/kbchat/internal/analytics"
	"github.com/srhkb/kbchat/internal/api"
	"github.com/srhkb/kbchat/internal/cache"
	"github.com/srhkb/kbchat/internal/composer"
	"github.com/srhkb/kbchat/internal/config"
	"github.com/srhkb/kbchat/internal/knowledge"
	"github.com/srhkb/kbchat/internal/ollama"
	"github.com/srhkb/kbchat/internal/pipeline"
	"github.com/srhkb/kbchat/internal/query"
	"github.com/srhkb/kbchat/internal/retrieval"
	"github.com/srhkb/kbchat/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kbchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running kbchat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kbchat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "kbchat.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "kbchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("kbchat is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("kbchat is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.EmbedTimeout, cfg.Ollama.GenerateTimeout)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.GenModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the query pipeline.
	kbStore := knowledge.NewSQLiteStore(store.DB())
	vocab := knowledge.NewVocabulary(kbStore, cfg.Vocab.TTL)
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	cachedEmbedder := cache.NewEmbeddingCache(embedder, cfg.Cache.MaxEntries)
	retriever := retrieval.NewRetriever(cachedEmbedder, kbStore)
	classifier := query.NewClassifier(cfg.Retrieval.RelevanceThreshold)
	expander := query.NewExpander(nil)
	comp := composer.New(cfg.Retrieval.MaxContextChars)
	generator := pipeline.NewModelGenerator(ollamaClient, cfg.Ollama.GenModel)
	pipe := pipeline.New(classifier, expander, vocab, retriever, comp, generator, cfg.Retrieval.TopK)

	responses := cache.NewResponseCache(cfg.Cache.ResponseTTL, cfg.Cache.MaxEntries)
	recorder := analytics.NewRecorder()

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Pipeline:  pipe,
		Responses: responses,
		Store:     kbStore,
		Vocab:     vocab,
		Summary:   vocab,
		Embedder:  cachedEmbedder,
		Analytics: recorder,
		Token:     cfg.Server.APIToken,
	})
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured; management endpoints are disabled")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline:  pipe,
		Retriever: retriever,
		Summary:   vocab,
		TopK:      cfg.Retrieval.TopK,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "kbchat listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("kbchat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop kbchat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to kbchat (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Generation model", "%s", cfg.Ollama.GenModel)
	printStatus("Embedding model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Relevance threshold", "%g", cfg.Retrieval.RelevanceThreshold)
	printStatus("Top-K", "%d", cfg.Retrieval.TopK)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
