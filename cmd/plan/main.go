package main

import (
	"context"
	"distribution_engine/internal/config"
	"distribution_engine/internal/distribution"
	"distribution_engine/internal/logger"
	"distribution_engine/internal/repository"
	"distribution_engine/internal/services"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	contractFlag := flag.String("contract", "", "distributor contract address")
	tokenFlag := flag.String("token", "", "token address; registers the contract when set")
	deploymentTxFlag := flag.String("deployment-tx", "", "contract deployment transaction hash, used with --token")
	manifestFlag := flag.String("manifest", "", "CSV manifest of address,amount rows (amounts in wei)")
	userFlag := flag.String("user", os.Getenv("USER"), "operator recorded as the event initiator")
	eventFlag := flag.String("event", "", "resume planning of an existing event")
	batchSizeFlag := flag.Int("batch-size", 0, "recipients per batch (or set BATCH_SIZE env var)")
	memoryFlag := flag.Bool("memory", false, "dry run against an in-process store")
	flag.Parse()

	if *manifestFlag == "" {
		return errors.New("--manifest is required")
	}
	if *contractFlag == "" && *eventFlag == "" {
		return errors.New("--contract or --event is required")
	}

	cfg := config.LoadConfig()
	if *batchSizeFlag > 0 {
		cfg.BatchSize = *batchSizeFlag
	}
	log := logger.New(*verboseFlag || cfg.Verbose)

	var dbRepository repository.DbRepository
	if *memoryFlag {
		dbRepository = repository.NewMemoryRepository()
	} else {
		var err error
		dbRepository, err = repository.ConnectToDb(cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to the database: %w", err)
		}
	}
	defer dbRepository.Disconnect()

	engine, err := distribution.New(distribution.Config{
		Logger:             log,
		Repository:         dbRepository,
		MaxConflictRetries: cfg.MaxNonceRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create distribution engine: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *tokenFlag != "" {
		if _, err := engine.Registry.Register(ctx, *contractFlag, *tokenFlag, *deploymentTxFlag); err != nil {
			return fmt.Errorf("failed to register contract: %w", err)
		}
	}

	result, err := services.PlanDistribution(ctx, log, engine, services.PlanRequest{
		ContractAddress: *contractFlag,
		InitiatedBy:     *userFlag,
		ManifestPath:    *manifestFlag,
		BatchSize:       cfg.BatchSize,
		EventID:         *eventFlag,
		Progress:        true,
	})
	if err != nil {
		return err
	}

	summary, err := engine.Lifecycle.Describe(ctx, result.Event.ID)
	if err != nil {
		return err
	}
	fmt.Printf("event %s: %d batches, %d addresses, total %s wei\n",
		result.Event.ID, len(summary.Batches), summary.AddressCount, summary.TotalValue)
	return nil
}
