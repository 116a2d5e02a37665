package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	grpcapi "care-transcript-relay/internal/api/grpc"
	"care-transcript-relay/internal/app"
	"care-transcript-relay/internal/config"
	httpapi "care-transcript-relay/internal/http"
	"care-transcript-relay/internal/observability"
	"care-transcript-relay/internal/observability/tracing"
	"care-transcript-relay/internal/service/classifier"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "care-relay",
	Short:        "Real-time caregiver transcription relay and sentence classifier",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(
		serveCmd(),
		classifyCmd(),
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, HTTP API, gRPC health and metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.Load())
		},
	}
}

func serve(ctx context.Context, cfg *config.Configuration) error {
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.Observability.TracingEnabled,
		ServiceName:  "care-transcript-relay",
		Environment:  os.Getenv("ENV"),
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		OTLPInsecure: cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	obs := observability.NewServer(cfg.Service.MetricsAddr)
	obs.Start()

	grpcServer := grpcapi.New(application.Metrics)
	grpcLis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		obs.Shutdown(context.Background())
		application.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(ctx, application),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Serve(gctx, grpcLis)
	})
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		obs.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked relay sockets are not tracked by http.Server; the
		// application waits for them separately.
		return errors.Join(
			httpServer.Shutdown(shutdownCtx),
			application.Shutdown(shutdownCtx),
			shutdownTracing(shutdownCtx),
			obs.Shutdown(shutdownCtx),
		)
	})

	grpcServer.SetServing(true)
	obs.SetReady(true)
	log.Info().
		Str("httpPort", cfg.Service.HTTPPort).
		Str("grpcPort", cfg.Service.GRPCPort).
		Str("metricsAddr", cfg.Service.MetricsAddr).
		Msg("Care transcript relay started")

	return g.Wait()
}

func classifyCmd() *cobra.Command {
	var scorer, labels string

	cmd := &cobra.Command{
		Use:   "classify [file]",
		Short: "Classify the sentences of a transcript file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load().Classifier
			if scorer != "" {
				cfg.Scorer = scorer
			}
			if labels != "" {
				cfg.LabelsFile = labels
			}

			c, err := classifier.FromConfig(cfg)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}

			out, err := c.Classify(cmd.Context(), string(text))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"classified": out})
		},
	}
	cmd.Flags().StringVar(&scorer, "scorer", "", "scorer to use (keyword, zeroshot); defaults to CLASSIFIER_SCORER")
	cmd.Flags().StringVar(&labels, "labels", "", "YAML label file; defaults to CLASSIFIER_LABELS_FILE")
	return cmd
}
