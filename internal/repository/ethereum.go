package repository

import (
	"context"
	"distribution_engine/internal/config"
	"distribution_engine/internal/models"
	"distribution_engine/internal/utils"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// Receipt is the part of a transaction receipt the confirmation watcher needs.
type Receipt struct {
	TxHash           string
	Succeeded        bool
	BlockNumber      uint64
	TransactionIndex uint
	FeeEther         float64
}

type EthereumRepository interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
	// GetReceipt returns models.ErrNotFound while the transaction is not mined.
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)
	// FetchReceipts looks up many receipts concurrently. Unmined hashes are left out
	// of the result.
	FetchReceipts(ctx context.Context, txHashes []string) (map[string]*Receipt, error)
}

// ethClient is the subset of *ethclient.Client used here.
type ethClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type ethereumRepository struct {
	client ethClient
	config *config.Config

	retryInterval time.Duration
	// showProgress renders a progress bar for FetchReceipts.
	showProgress bool
}

func NewEthereumRepository(client ethClient, config *config.Config) EthereumRepository {
	return &ethereumRepository{
		client:        client,
		config:        config,
		retryInterval: time.Second,
		showProgress:  true,
	}
}

func (r *ethereumRepository) GetLatestBlock(ctx context.Context) (uint64, error) {
	block, err := withRetry(ctx, r, func() (uint64, error) {
		return r.client.BlockNumber(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch block number: %w", err)
	}
	return block, nil
}

func (r *ethereumRepository) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := withRetry(ctx, r, func() (*types.Receipt, error) {
		receipt, err := r.client.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(err, ethereum.NotFound) {
			return nil, backoff.Permanent(fmt.Errorf("receipt %s: %w", txHash, models.ErrNotFound))
		}
		return receipt, err
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch transaction receipt %s: %w", txHash, err)
	}

	fee := new(big.Int)
	if receipt.EffectiveGasPrice != nil {
		fee.Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	}
	var blockNumber uint64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}
	return &Receipt{
		TxHash:           txHash,
		Succeeded:        receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber:      blockNumber,
		TransactionIndex: receipt.TransactionIndex,
		FeeEther:         utils.ConvertWeiToEther(fee),
	}, nil
}

func (r *ethereumRepository) FetchReceipts(ctx context.Context, txHashes []string) (map[string]*Receipt, error) {
	bar := progressbar.DefaultSilent(int64(len(txHashes)), "receipts")
	if r.showProgress {
		bar = progressbar.Default(int64(len(txHashes)), "receipts")
	}
	defer bar.Finish()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.config.ConcurrentReceipts, 1))

	receipts := make(map[string]*Receipt, len(txHashes))
	var mu sync.Mutex

	for _, txHash := range txHashes {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			receipt, err := r.GetReceipt(ctx, txHash)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if receipt != nil {
				receipts[txHash] = receipt
			}
			bar.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// withRetry retries an RPC call with jittered exponential backoff, up to MaxRetries
// attempts.
func withRetry[T any](ctx context.Context, r *ethereumRepository, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryInterval
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(max(r.config.MaxRetries, 1))))
}
