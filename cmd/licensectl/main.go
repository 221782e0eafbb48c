// licensectl issues and inspects license tokens against the chatledger
// database. It talks to storage directly and is meant for operators, not
// end users.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/chatledger/internal/audit"
	"github.com/dukerupert/chatledger/internal/ledger"
	"github.com/dukerupert/chatledger/internal/license"
	"github.com/dukerupert/chatledger/internal/logging"
	"github.com/dukerupert/chatledger/internal/storage"
	"github.com/dukerupert/chatledger/internal/storage/postgres"
	"github.com/dukerupert/chatledger/internal/storage/sqlite"
)

func main() {
	_ = godotenv.Load()
	logger := logging.Setup(os.Getenv("CHATLEDGER_LOG_LEVEL"), os.Getenv("CHATLEDGER_LOG_FORMAT"))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	backend, err := openBackend()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open storage: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	auditLog := audit.New(backend.Transactions(), logger)
	registry := license.New(backend.Licenses(), backend.Accounts(), auditLog)
	accounts := ledger.New(backend.Accounts())

	ctx := context.Background()

	switch cmd := os.Args[1]; cmd {
	case "issue":
		err = runIssue(ctx, registry, os.Args[2:])
	case "redeem":
		err = runRedeem(ctx, registry, os.Args[2:])
	case "usage":
		err = runUsage(ctx, accounts, os.Args[2:])
	case "history":
		err = runHistory(ctx, auditLog, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: licensectl <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "  issue    -messages N [-days N] [-price N] [-count N]")
	fmt.Fprintln(os.Stderr, "  redeem   -user ID -token TOKEN")
	fmt.Fprintln(os.Stderr, "  usage    -user ID")
	fmt.Fprintln(os.Stderr, "  history  -user ID [-limit N]")
}

func openBackend() (storage.Backend, error) {
	switch kind := os.Getenv("CHATLEDGER_BACKEND"); kind {
	case "", "sqlite":
		dbPath := os.Getenv("CHATLEDGER_DB_PATH")
		if dbPath == "" {
			dbPath = "chatledger.db"
		}
		return sqlite.Open(dbPath)
	case "postgres":
		dsn := os.Getenv("CHATLEDGER_DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("CHATLEDGER_DATABASE_URL is required for the postgres backend")
		}
		return postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func runIssue(ctx context.Context, registry *license.Registry, args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	messages := fs.Int64("messages", 0, "message allowance granted on redemption")
	days := fs.Int("days", 0, "subscription days granted on redemption")
	price := fs.Float64("price", 0, "sale price recorded on the license")
	count := fs.Int("count", 1, "number of tokens to issue")
	fs.Parse(args)

	if *messages <= 0 && *days <= 0 {
		return fmt.Errorf("issue: need -messages or -days")
	}
	for i := 0; i < *count; i++ {
		lic, err := registry.Issue(ctx, *messages, *price, *days)
		if err != nil {
			return fmt.Errorf("issue license: %w", err)
		}
		fmt.Println(lic.Token)
	}
	return nil
}

func runRedeem(ctx context.Context, registry *license.Registry, args []string) error {
	fs := flag.NewFlagSet("redeem", flag.ExitOnError)
	user := fs.Int64("user", 0, "account id")
	token := fs.String("token", "", "license token")
	fs.Parse(args)

	if *user == 0 || *token == "" {
		return fmt.Errorf("redeem: need -user and -token")
	}
	res, err := registry.Redeem(ctx, *user, *token)
	if err != nil {
		return fmt.Errorf("redeem: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("redeem: token is invalid or already used")
	}
	fmt.Printf("granted %d messages to user %d", res.GrantedMessages, *user)
	if res.NewSubscriptionEnd != nil {
		fmt.Printf(", subscription until %s", res.NewSubscriptionEnd.Format(time.DateOnly))
	}
	fmt.Println()
	return nil
}

func runUsage(ctx context.Context, accounts *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	user := fs.Int64("user", 0, "account id")
	fs.Parse(args)

	if *user == 0 {
		return fmt.Errorf("usage: need -user")
	}
	u, err := accounts.UsageSnapshot(ctx, *user)
	if err != nil {
		return fmt.Errorf("usage: %w", err)
	}
	fmt.Printf("user %d: %d/%d used, %d remaining\n", *user, u.Used, u.Limit, u.Remaining)
	return nil
}

func runHistory(ctx context.Context, auditLog *audit.Log, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	user := fs.Int64("user", 0, "account id")
	limit := fs.Int("limit", 50, "max transactions to list")
	fs.Parse(args)

	if *user == 0 {
		return fmt.Errorf("history: need -user")
	}
	txs, err := auditLog.History(ctx, *user, *limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTYPE\tAMOUNT\tBEFORE\tAFTER\tDESCRIPTION")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			tx.CreatedAt.Format(time.RFC3339), tx.Type, tx.Amount, tx.Before, tx.After, tx.Description)
	}
	return w.Flush()
}
