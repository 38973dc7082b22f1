package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

type benchOptions struct {
	total       int
	concurrency int
	accounts    int
	amount      string
	opening     string
	duration    time.Duration
}

// benchStats 各類結果的計數
type benchStats struct {
	ok, insufficient, inconsistent, failed atomic.Int64
}

func newBenchCmd(c *cli) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load test: open N accounts and fire random transfers between them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd.Context(), c, opts)
		},
	}
	cmd.Flags().IntVar(&opts.total, "total", 100000, "number of transfers to send")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 200, "in-flight requests")
	cmd.Flags().IntVar(&opts.accounts, "accounts", 16, "accounts to spread transfers over")
	cmd.Flags().StringVar(&opts.amount, "amount", "1", "amount per transfer")
	cmd.Flags().StringVar(&opts.opening, "opening", "1000000", "opening balance of each bench account")
	cmd.Flags().DurationVar(&opts.duration, "max-duration", 2*time.Minute, "abort the run after this long")
	return cmd
}

func runBench(parent context.Context, c *cli, opts benchOptions) error {
	if opts.accounts < 2 {
		return errors.New("bench needs at least 2 accounts")
	}
	amount, err := parseAmount(opts.amount)
	if err != nil {
		return err
	}
	opening, err := parseAmount(opts.opening)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, opts.duration)
	defer cancel()

	// 每次執行使用新的帳戶，避免互相影響
	run := uuid.NewString()[:8]
	ids := make([]string, opts.accounts)
	for i := range ids {
		ids[i] = fmt.Sprintf("bench-%s-%d", run, i)
		if _, err := c.client.CreateAccount(ctx, ids[i], opening); err != nil {
			return fmt.Errorf("create %s: %w", ids[i], err)
		}
	}

	var (
		wg    sync.WaitGroup
		stats benchStats
		sem   = make(chan struct{}, opts.concurrency)
	)
	start := time.Now()

	for i := 0; i < opts.total; i++ {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			from := ids[idx%len(ids)]
			to := ids[(idx+1+idx/len(ids))%len(ids)]
			if from == to {
				to = ids[(idx+1)%len(ids)]
			}
			_, err := c.client.Transfer(ctx, from, to, amount)
			switch {
			case err == nil:
				stats.ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				stats.insufficient.Add(1)
			case errors.Is(err, domain.ErrInconsistent):
				stats.inconsistent.Add(1)
			default:
				if stats.failed.Add(1)%1000 == 1 {
					fmt.Printf("transfer %d failed: %v\n", idx, err)
				}
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	sent := stats.ok.Load() + stats.insufficient.Load() + stats.inconsistent.Load() + stats.failed.Load()
	fmt.Printf("Completed %d requests in %v\n", sent, elapsed)
	fmt.Printf("  ok=%d insufficient=%d inconsistent=%d failed=%d\n",
		stats.ok.Load(), stats.insufficient.Load(), stats.inconsistent.Load(), stats.failed.Load())
	fmt.Printf("TPS: %.2f\n", float64(sent)/elapsed.Seconds())

	// 轉帳只在 bench 帳戶之間進行，總額必須不變
	total := opening.Mul(decimal.NewFromInt(int64(len(ids))))
	sum := decimal.Zero
	for _, id := range ids {
		bctx, bcancel := c.ctx()
		b, err := c.client.GetBalance(bctx, id)
		bcancel()
		if err != nil {
			return fmt.Errorf("balance %s: %w", id, err)
		}
		sum = sum.Add(b)
	}
	fmt.Printf("Conservation: expected %s, got %s\n", total.String(), sum.String())
	if stats.inconsistent.Load() == 0 && !sum.Equal(total) {
		return fmt.Errorf("balance drift: expected %s, got %s", total, sum)
	}
	return nil
}
