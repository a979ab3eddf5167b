package main

import (
	"context"
	"distribution_engine/internal/config"
	"distribution_engine/internal/distribution"
	"distribution_engine/internal/logger"
	"distribution_engine/internal/repository"
	"distribution_engine/internal/services"
	"distribution_engine/internal/utils"
	"distribution_engine/internal/watcher"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running distribution engine: %v", err)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	metricsAddrFlag := flag.String("metrics-addr", "", "address to serve prometheus metrics on (or set METRICS_ADDR env var)")
	flag.Parse()

	config := config.LoadConfig()
	if *metricsAddrFlag != "" {
		config.MetricsAddr = *metricsAddrFlag
	}
	slogger := logger.New(*verboseFlag || config.Verbose)

	client, err := ethclient.Dial(config.RPC_URL)
	if err != nil {
		return fmt.Errorf("failed to connect to the Ethereum client: %w", err)
	}
	defer client.Close()
	ethereumRepository := repository.NewEthereumRepository(client, config)

	dbRepository, err := repository.ConnectToDb(config)
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	defer dbRepository.Disconnect()

	engine, err := distribution.New(distribution.Config{
		Logger:             slogger,
		Repository:         dbRepository,
		MaxConflictRetries: config.MaxNonceRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create distribution engine: %w", err)
	}
	confirmationWatcher, err := watcher.New(watcher.Config{
		Logger:             slogger,
		Engine:             engine,
		Ethereum:           ethereumRepository,
		ConfirmationBlocks: config.ConfirmationBlocks,
	})
	if err != nil {
		return fmt.Errorf("failed to create confirmation watcher: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if config.MetricsAddr != "" {
		go serveMetrics(slogger, config.MetricsAddr)
	}

	running, err := services.ResumeRunning(ctx, slogger, engine)
	if err != nil {
		return err
	}
	log.Printf("✅ Resumed %d running events", running)

	c := cron.New(cron.WithSeconds())
	_, err = c.AddFunc(config.CronSchedule, func() {
		syncConfirmations(ctx, slogger, confirmationWatcher)
		utils.PrintNextExecution(c)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cron jobs: %w", err)
	}

	syncConfirmations(ctx, slogger, confirmationWatcher)
	c.Start()
	utils.PrintNextExecution(c)

	<-ctx.Done()

	log.Println("Shutting down gracefully...")
	<-c.Stop().Done()
	return nil
}

func serveMetrics(slogger *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		slogger.Error("failed to start prometheus metrics server listener", "error", err)
		return
	}
	slogger.Info("prometheus metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, mux); err != nil {
		slogger.Error("failed to serve prometheus metrics", "error", err)
	}
}

// syncConfirmations logs failures instead of exiting; the next run retries them.
func syncConfirmations(ctx context.Context, slogger *slog.Logger, w *watcher.Watcher) {
	if ctx.Err() != nil {
		return
	}
	if err := services.SyncConfirmations(ctx, slogger, w); err != nil {
		slogger.Error("Error syncing confirmations", "error", err)
	}
}

func init() {
	flag.CommandLine.SortFlags = false
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nRuns the confirmation watcher on CRON_SCHEDULE.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}
