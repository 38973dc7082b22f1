package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
)

// cli 子指令共用的連線與輸出
type cli struct {
	addr    string
	timeout time.Duration
	verbose bool

	pool   *grpc.Pool
	client *grpc_adapter.Client
}

func (c *cli) connect() error {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: "console", Development: true})
	if err != nil {
		return err
	}
	c.pool = grpc.NewPool(
		grpc.WithLogger(log),
		grpc.WithInterceptor(grpc.LoggingInterceptor(log)),
	)
	conn, err := c.pool.GetConnection(c.addr)
	if err != nil {
		return err
	}
	c.client = grpc_adapter.NewClient(conn)
	return nil
}

func (c *cli) close() {
	if c.pool != nil {
		_ = c.pool.Close()
	}
}

func (c *cli) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

func main() {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Command line client for the bank ledger gRPC service",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.connect()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.addr, "addr", "localhost:50051", "ledger gRPC address")
	rootCmd.PersistentFlags().DurationVar(&c.timeout, "timeout", 10*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log every gRPC call")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "balance <account>",
			Short: "Show an account balance",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				balance, err := c.client.GetBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"account_id": args[0], "balance": balance})
			},
		},
		&cobra.Command{
			Use:   "transfer <from> <to> <amount>",
			Short: "Move money between two accounts",
			Args:  cobra.ExactArgs(3),
			RunE: func(_ *cobra.Command, args []string) error {
				amount, err := parseAmount(args[2])
				if err != nil {
					return err
				}
				ctx, cancel := c.ctx()
				defer cancel()
				result, err := c.client.Transfer(ctx, args[0], args[1], amount)
				if result != nil {
					_ = printJSON(map[string]any{"result": result, "state": result.State.String()})
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "txs <account>",
			Short: "List account transactions",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				txs, err := c.client.ListTransactions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(txs)
			},
		},
		&cobra.Command{
			Use:   "create <account> <initial-balance>",
			Short: "Open an account",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				amount, err := parseAmount(args[1])
				if err != nil {
					return err
				}
				ctx, cancel := c.ctx()
				defer cancel()
				ref, err := c.client.CreateAccount(ctx, args[0], amount)
				if err != nil {
					return err
				}
				return printJSON(ref)
			},
		},
		&cobra.Command{
			Use:   "close <account>",
			Short: "Close an account and delete its transactions",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				return c.client.CloseAccount(ctx, args[0])
			},
		},
		&cobra.Command{
			Use:   "update <account> <metadata>",
			Short: "Replace account metadata",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				return c.client.UpdateAccount(ctx, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "profile <account>",
			Short: "Show the customer profile of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				profile, err := c.client.GetCustomerProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(profile)
			},
		},
		&cobra.Command{
			Use:   "loans <customer>",
			Short: "List a customer's loans",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				loans, err := c.client.GetActiveLoans(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(loans)
			},
		},
		&cobra.Command{
			Use:   "loan <loan-id>",
			Short: "Show a loan status line",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				status, err := c.client.GetLoanStatus(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(status)
				return nil
			},
		},
		&cobra.Command{
			Use:   "interest <account>",
			Short: "Simulate compound interest on the current balance",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ctx, cancel := c.ctx()
				defer cancel()
				points, err := c.client.SimulateInterest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(points)
			},
		},
		newBenchCmd(c),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
