package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dukerupert/chatledger/internal/engine"
	"github.com/dukerupert/chatledger/internal/ledger"
	"github.com/dukerupert/chatledger/internal/logging"
	"github.com/dukerupert/chatledger/internal/provider"
	"github.com/dukerupert/chatledger/internal/storage"
	"github.com/dukerupert/chatledger/internal/storage/postgres"
	"github.com/dukerupert/chatledger/internal/storage/sqlite"
	"github.com/dukerupert/chatledger/internal/stream"
)

func main() {
	_ = godotenv.Load()

	logger := logging.Setup(os.Getenv("CHATLEDGER_LOG_LEVEL"), os.Getenv("CHATLEDGER_LOG_FORMAT"))

	backend, err := openBackend()
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	defaultModel := os.Getenv("CHATLEDGER_MODEL")
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}

	eng := engine.New(backend, provider.NewOpenAI(apiKey, os.Getenv("OPENAI_BASE_URL")), engine.Config{
		DefaultModel: defaultModel,
	}, logger)

	userID := int64(1)
	if v := os.Getenv("CHATLEDGER_USER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			slog.Error("invalid CHATLEDGER_USER_ID", "value", v)
			os.Exit(1)
		}
		userID = id
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println("\nShutting down...")
		cancel()
	}()

	fmt.Printf("chatledger console (user %d). Type a message, or /help for commands.\n", userID)
	runConsole(ctx, eng, userID)
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

func runConsole(ctx context.Context, eng *engine.Engine, userID int64) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := handleCommand(ctx, eng, userID, line); done {
				return
			}
			continue
		}
		sendMessage(ctx, eng, userID, line)
	}
}

func sendMessage(ctx context.Context, eng *engine.Engine, userID int64, text string) {
	// Each provisional flush overwrites the line; the final view ends it.
	var lastLen int
	sink := func(v stream.View) error {
		fmt.Printf("\r%s%s", v.Text, strings.Repeat(" ", max(0, lastLen-len(v.Text))))
		lastLen = len(v.Text)
		if v.Final {
			fmt.Println()
		}
		return nil
	}

	reply, err := eng.OnUserMessage(ctx, userID, text, sink)
	switch {
	case errors.Is(err, ledger.ErrQuotaExceeded):
		fmt.Println("Out of messages. Redeem a license with /redeem <token>.")
		return
	case err != nil:
		fmt.Printf("error: %v\n", err)
		if reply == nil || reply.Text == "" {
			return
		}
	}
	if reply.Usage.Limit > 0 || reply.Usage.Used > 0 {
		fmt.Printf("[%s, %d/%d messages used]\n", reply.ModelUsed, reply.Usage.Used, reply.Usage.Limit)
	}
	if reply.LowBalance {
		fmt.Printf("Running low: %d messages left.\n", reply.Usage.Remaining)
	}
}

func handleCommand(ctx context.Context, eng *engine.Engine, userID int64, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println("/new            start a fresh conversation")
		fmt.Println("/usage          show message quota")
		fmt.Println("/redeem TOKEN   redeem a license token")
		fmt.Println("/mode ID        switch chat mode")
		fmt.Println("/model NAME     switch model")
		fmt.Println("/modes          list chat modes")
		fmt.Println("/lang CODE      set preferred language")
		fmt.Println("/quit           exit")
	case "/new":
		if _, err := eng.NewConversation(ctx, userID, nil); err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		fmt.Println("Started a new conversation.")
	case "/usage":
		usage, err := eng.Ledger().UsageSnapshot(ctx, userID)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		fmt.Printf("%d of %d messages used, %d remaining.\n", usage.Used, usage.Limit, usage.Remaining)
	case "/redeem":
		if arg == "" {
			fmt.Println("usage: /redeem TOKEN")
			break
		}
		res, err := eng.Registry().Redeem(ctx, userID, arg)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		if !res.OK {
			fmt.Println("That token is invalid or already used.")
			break
		}
		fmt.Printf("Redeemed: +%d messages", res.GrantedMessages)
		if res.NewSubscriptionEnd != nil {
			fmt.Printf(", subscription until %s", res.NewSubscriptionEnd.Format("2006-01-02"))
		}
		fmt.Println(".")
	case "/mode":
		if arg == "" {
			fmt.Println("usage: /mode ID")
			break
		}
		eng.Sessions().SetMode(userID, provider.ModeByID(arg).ID)
		fmt.Printf("Mode set to %s.\n", provider.ModeByID(arg).Name)
	case "/model":
		if arg == "" {
			fmt.Println("usage: /model NAME")
			break
		}
		eng.Sessions().SetModel(userID, arg)
		fmt.Printf("Model set to %s.\n", arg)
	case "/modes":
		for _, m := range provider.Modes() {
			fmt.Printf("%-12s %s\n", m.ID, m.Name)
		}
	case "/lang":
		if arg == "" {
			fmt.Println("usage: /lang CODE")
			break
		}
		if err := eng.Ledger().UpdateLanguage(ctx, userID, arg); err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		fmt.Printf("Language set to %s.\n", arg)
	default:
		fmt.Println("Unknown command. Try /help.")
	}
	return false
}
