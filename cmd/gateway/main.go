// Command gateway runs the artwork protection HTTP gateway: job
// submission, the asynchronous protection pipeline, and callback/backend
// delivery, matching app.py's uvicorn entrypoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	storageadapter "github.com/artorize/gateway/adapters/storage"
	"github.com/artorize/gateway/backendupload"
	"github.com/artorize/gateway/c2pa"
	"github.com/artorize/gateway/callback"
	"github.com/artorize/gateway/config"
	"github.com/artorize/gateway/hooks"
	"github.com/artorize/gateway/httpapi"
	"github.com/artorize/gateway/jobmanager"
	"github.com/artorize/gateway/runner"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Artwork protection gateway",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	var dotenvPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, dotenvPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&dotenvPath, "env-file", "", "path to a .env file (optional)")
	return cmd
}

func runServe(addr, dotenvPath string) error {
	cfg, err := config.LoadFromEnv(dotenvPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := hooks.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	metricsRegistry := prometheus.NewRegistry()
	metricsCollector := hooks.NewPrometheusMetrics(metricsRegistry)

	signer := c2pa.NewSelfSignedSigner()
	processor := runner.New(cfg.OutputDir, signer)
	processor.Metrics = metricsCollector
	processor.AdaptiveCompression = cfg.AdaptiveCompression

	callbackClient := callback.New(
		time.Duration(cfg.CallbackTimeoutMS)*time.Millisecond,
		cfg.CallbackRetryAttempts,
		time.Duration(cfg.CallbackRetryDelayMS)*time.Millisecond,
		logger,
		nil,
	)

	uploader, err := buildUploader(cfg)
	if err != nil {
		return fmt.Errorf("build storage uploader: %w", err)
	}
	backendClient := backendupload.New(cfg.RequestTimeout, cfg.MaxRetries, cfg.RetryDelay)
	completer := runner.NewCompletion(backendClient, uploader)

	manager := jobmanager.New(jobmanager.Config{
		WorkerConcurrency: workerConcurrency(cfg),
		QueueSize:         cfg.QueueSize,
		JobTimeout:        cfg.JobTimeout,
	}, processor, completer, callbackClient, logger)
	manager.Start()
	defer manager.Stop()

	server := httpapi.NewServer(manager, cfg.OutputDir, cfg.BaseDir, logger, metricsRegistry)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", addr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
}

func workerConcurrency(cfg config.Config) int {
	if cfg.WorkerCount > 0 {
		return cfg.WorkerCount
	}
	return 1
}

func buildUploader(cfg config.Config) (*storageadapter.GatewayUploader, error) {
	switch cfg.Storage {
	case config.StorageS3:
		client, err := storageadapter.NewRealS3Client(context.Background(), storageadapter.S3Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		adapter, err := storageadapter.NewS3(client, cfg.S3.Bucket)
		if err != nil {
			return nil, err
		}
		baseURL := cfg.CDNBaseURL
		if baseURL == "" {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3.Bucket, cfg.S3.Region)
		}
		return storageadapter.NewGatewayUploader(adapter, cfg.S3.Bucket, baseURL), nil
	default:
		adapter, err := storageadapter.NewLocal(cfg.OutputDir+"/storage", 0)
		if err != nil {
			return nil, err
		}
		baseURL := cfg.StorageBackendURL
		if baseURL == "" {
			baseURL = "http://localhost" + ":8080/static"
		}
		return storageadapter.NewGatewayUploader(adapter, "protected", baseURL), nil
	}
}
