// main.go - The notechain daemon: runs the transfer scenario end to end,
// serves proving over HTTP, and reports component health.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/batch"
	"notechain/internal/block"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/executor"
	"notechain/internal/kernel"
	"notechain/internal/note"
	"notechain/internal/prover"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "notechaind",
		Short:         "notechain execution and proving daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "notechain.json", "path to the configuration file")
	root.AddCommand(newRunCmd(), newProverCmd(), newHealthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "notechaind: %v\n", err)
		os.Exit(1)
	}
}

func loadValidatedConfig() (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// buildProver assembles the proof service: a pool of remote workers when
// any are configured, otherwise a local Groth16 prover with keys
// persisted under the key directory.
func buildProver(ctx context.Context, cfg *Config, logger *Logger, metrics *MetricsCollector) (prover.Service, error) {
	if len(cfg.ProverWorkers) > 0 {
		workers := make([]prover.Service, 0, len(cfg.ProverWorkers))
		for _, addr := range cfg.ProverWorkers {
			workers = append(workers, prover.NewRemoteProver(addr))
		}
		pool := prover.NewPool(workers...)
		if evicted := pool.EvictUnhealthy(ctx); evicted > 0 {
			logger.Warn("evicted %d unreachable prover workers", evicted)
		}
		metrics.SetGauge(MetricProverWorkers, float64(pool.Size()))
		if pool.Size() == 0 {
			return nil, fmt.Errorf("no healthy prover workers among %d configured", len(cfg.ProverWorkers))
		}
		logger.Info("proving via %d remote workers", pool.Size())
		return pool, nil
	}

	if err := os.MkdirAll(cfg.KeyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	start := time.Now()
	local, err := prover.NewLocalProverWithKeys(
		filepath.Join(cfg.KeyDir, "transition_pk.bin"),
		filepath.Join(cfg.KeyDir, "transition_vk.bin"),
	)
	if err != nil {
		return nil, fmt.Errorf("local prover setup failed: %w", err)
	}
	metrics.RecordTiming(MetricKeySetupTime, time.Since(start))
	logger.Info("local prover ready in %s", time.Since(start).Round(time.Millisecond))
	return local, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the transfer scenario: execute, prove, batch and commit a block",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidatedConfig()
			if err != nil {
				return err
			}
			logger, err := NewLogger(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.TimeoutSeconds)*time.Second)
			defer cancel()
			return runScenario(ctx, cfg, logger)
		},
	}
}

type participant struct {
	acct *account.Account
	sk   *account.SecretKey
}

// runScenario drives the full pipeline: N funded accounts each emit a
// transfer note to their neighbor, the transactions are proven, folded
// into one batch, and committed as a block.
func runScenario(ctx context.Context, cfg *Config, logger *Logger) error {
	metrics := NewMetricsCollector()

	svc, err := buildProver(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	feeFaucet := account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord())
	assetFaucet := account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord())

	// Fund each account with fee coverage plus the amount it will send.
	participants := make([]participant, cfg.NumAccounts)
	headers := make([]account.Header, cfg.NumAccounts)
	for i := range participants {
		sk, err := account.GenerateSecretKey()
		if err != nil {
			return err
		}
		storage, err := account.NewStorage([]account.Slot{account.NewValueSlot(crypto.EmptyWord)})
		if err != nil {
			return err
		}
		vault, err := fundedVault(feeFaucet.Word(), cfg.BaseFunding, assetFaucet.Word(), cfg.TransferAmount)
		if err != nil {
			return err
		}
		acct, err := account.NewExisting(
			account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
			vault, storage, account.StandardCode(sk.PublicKey()), 1)
		if err != nil {
			return err
		}
		participants[i] = participant{acct: acct, sk: sk}
		headers[i] = acct.Header()
	}

	chainState, err := chain.Genesis(uint64(time.Now().Unix()), headers...)
	if err != nil {
		return err
	}
	store := executor.NewMemoryStore(chainState)
	for _, p := range participants {
		store.PutAccount(p.acct)
	}
	exec := executor.New(store, kernel.Params{
		FeeFaucet:  feeFaucet.Word(),
		BaseFee:    cfg.BaseFee,
		PerNoteFee: cfg.PerNoteFee,
	})
	logger.Info("genesis committed: %d accounts, account root %s", cfg.NumAccounts, chainState.AccountRoot())

	// Execute and prove one transfer per participant.
	proven := make([]*kernel.ProvenTransaction, 0, len(participants))
	for i, p := range participants {
		target := participants[(i+1)%len(participants)].acct.ID()
		recipient, err := note.NewRecipient(note.TransferScript(target), nil)
		if err != nil {
			return err
		}
		payment, err := asset.NewFungibleAsset(assetFaucet.Word(), cfg.TransferAmount)
		if err != nil {
			return err
		}
		script := note.CustomScript(note.Op{
			Kind:      note.OpEmitNote,
			Recipient: recipient.Digest(),
			Assets:    []asset.Asset{asset.NewAsset(payment)},
			Tag:       1,
		})

		tx, err := exec.ExecuteWithRetry(ctx, executor.Request{
			AccountID:     p.acct.ID(),
			TxScript:      &script,
			Salt:          crypto.RandomWord(),
			Authenticator: &kernel.SingleKeyAuthenticator{Key: p.sk},
		}, executor.DefaultRetryPolicy)
		if err != nil {
			metrics.IncrementCounter(MetricTransactionsFailed)
			return fmt.Errorf("transaction %d failed: %w", i, err)
		}
		metrics.IncrementCounter(MetricTransactionsExecuted)

		start := time.Now()
		ptx, err := kernel.ProveTransaction(ctx, svc, tx)
		if err != nil {
			return fmt.Errorf("proving transaction %d failed: %w", i, err)
		}
		metrics.RecordTiming(MetricProofTime, time.Since(start))
		logger.Info("transaction %d proven: account %s, %d output notes", i, p.acct.ID(), len(ptx.OutputNotes))
		proven = append(proven, ptx)
	}

	// Aggregate: one batch, one block.
	proposedBatch, err := batch.Propose(proven)
	if err != nil {
		return err
	}
	pb, err := batch.NewProver(svc).Prove(ctx, proposedBatch)
	if err != nil {
		return fmt.Errorf("batch proving failed: %w", err)
	}
	metrics.IncrementCounter(MetricBatchesProven)
	logger.Info("batch proven: %d transactions, %d output notes", len(pb.Transactions), len(pb.OutputNotes))

	proposedBlock, err := block.Propose(chainState, uint64(time.Now().Unix()), []*batch.ProvenBatch{pb})
	if err != nil {
		return err
	}
	provenBlock, err := block.NewProver(svc, chainState).Prove(ctx, proposedBlock)
	if err != nil {
		return fmt.Errorf("block proving failed: %w", err)
	}
	metrics.IncrementCounter(MetricBlocksCommitted)
	metrics.SetGauge(MetricChainHeight, float64(chainState.BlockNum()))
	logger.Info("block %d committed: account root %s, note root %s",
		provenBlock.Header.BlockNum, provenBlock.Header.AccountRoot, provenBlock.Header.NoteRoot)

	if err := saveLedger(chainState, cfg.LedgerPath); err != nil {
		logger.Warn("ledger save failed: %v", err)
	}

	hc := NewHealthChecker()
	hc.RegisterComponent("prover", func() error {
		hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hcancel()
		return svc.Health(hctx)
	})
	hc.RegisterComponent("chain", func() error {
		if chainState.BlockNum() == 0 {
			return fmt.Errorf("chain did not advance past genesis")
		}
		return nil
	})
	logger.Info("health:\n%s", hc.Check().JSON())
	for _, line := range metrics.Summary() {
		logger.Info("metric %s", line)
	}
	return nil
}

func fundedVault(feeFaucet crypto.Word, funding uint64, assetFaucet crypto.Word, amount uint64) (*asset.Vault, error) {
	fee, err := asset.NewFungibleAsset(feeFaucet, funding)
	if err != nil {
		return nil, err
	}
	payment, err := asset.NewFungibleAsset(assetFaucet, amount)
	if err != nil {
		return nil, err
	}
	return asset.NewVault([]asset.Asset{asset.NewAsset(fee), asset.NewAsset(payment)})
}

// saveLedger writes the full header history to disk.
func saveLedger(c *chain.ChainState, path string) error {
	headers, err := c.Headers(0, c.BlockNum())
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(headers)
}

func newProverCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "prover",
		Short: "serve Groth16 proving over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidatedConfig()
			if err != nil {
				return err
			}
			logger, err := NewLogger(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return err
			}
			defer logger.Close()

			if listenAddr == "" {
				listenAddr = cfg.ProverListenAddr
			}
			if err := os.MkdirAll(cfg.KeyDir, 0755); err != nil {
				return fmt.Errorf("failed to create key directory: %w", err)
			}
			local, err := prover.NewLocalProverWithKeys(
				filepath.Join(cfg.KeyDir, "transition_pk.bin"),
				filepath.Join(cfg.KeyDir, "transition_vk.bin"),
			)
			if err != nil {
				return fmt.Errorf("local prover setup failed: %w", err)
			}

			srv := prover.NewServer(local)
			if err := srv.Start(listenAddr); err != nil {
				return err
			}
			logger.Info("prover worker listening on %s", srv.Addr())

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			logger.Info("shutting down prover worker")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, overrides prover_listen_addr")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "report the health of configured prover workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidatedConfig()
			if err != nil {
				return err
			}

			hc := NewHealthChecker()
			for _, addr := range cfg.ProverWorkers {
				addr := addr
				rp := prover.NewRemoteProver(addr)
				hc.RegisterComponent(addr, func() error {
					hctx, hcancel := context.WithTimeout(cmd.Context(), 5*time.Second)
					defer hcancel()
					return rp.Health(hctx)
				})
			}
			hc.RegisterComponent("proving_key", func() error {
				_, err := os.Stat(filepath.Join(cfg.KeyDir, "transition_pk.bin"))
				return err
			})

			fmt.Println(hc.Check().JSON())
			return nil
		},
	}
}
