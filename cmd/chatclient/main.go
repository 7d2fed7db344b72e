package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/chat-client/internal/api"
	"github.com/rickgao/chat-client/internal/config"
	"github.com/rickgao/chat-client/internal/connection"
	"github.com/rickgao/chat-client/internal/database"
	"github.com/rickgao/chat-client/internal/session"
	"github.com/rickgao/chat-client/internal/store"
	"github.com/rickgao/chat-client/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	user := flag.String("user", "", "user name; resumes the stored session when empty")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "password (or CHAT_PASSWORD)")
	peer := flag.Int64("peer", 0, "user id to chat with; lines read from stdin are sent to them")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, levelErr := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if levelErr != nil {
		logger.Warn("invalid log level, using info", "level", cfg.Log.Level, "error", levelErr)
	}

	logger.Info("starting chat client",
		"version", version.Version,
		"commit", version.Commit,
		"rest_url", cfg.Server.RestURL,
		"ws_url", cfg.Server.WSURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *user, *password, *peer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("chat client failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chat client stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func run(ctx context.Context, cfg *config.Config, user, password string, peer int64, logger *slog.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client := api.NewClient(
		cfg.Server.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Server.Timeout),
		api.WithRetries(cfg.Server.MaxRetries, time.Second),
	)

	sess := session.New(client, st, cfg.ManagerConfig(), logger, watch(ctx, client, peer, logger))

	var m *connection.Manager
	if user != "" {
		m, err = sess.Login(ctx, user, password)
	} else {
		m, err = sess.Resume(ctx)
	}
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer m.Disconnect()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return ctx.Err()
	})

	if peer != 0 {
		g.Go(func() error {
			return sendLoop(ctx, client, peer, os.Stdin, logger)
		})
	}

	return g.Wait()
}

// openStore builds the configured session store.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Store.Driver != config.StorePostgres {
		return store.NewMemory(), func() {}, nil
	}

	logger.Info("connecting to database",
		"host", cfg.Store.Postgres.Host,
		"port", cfg.Store.Postgres.Port,
		"database", cfg.Store.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Store.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect store database: %w", err)
	}

	pg := store.NewPostgres(pool, logger)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}

// watch returns a manager option that prints inbound chat messages and
// lifecycle changes, and catches up on history with peer after every reconnect.
// Handlers are registered before the first connect so no frame is missed.
func watch(ctx context.Context, client *api.Client, peer int64, logger *slog.Logger) connection.Option {
	return func(m *connection.Manager) {
		subscribe(ctx, m, client, peer, logger)
	}
}

func subscribe(ctx context.Context, m *connection.Manager, client *api.Client, peer int64, logger *slog.Logger) {
	m.Subscribe("chat", connection.Decode(func(msg api.Message) error {
		fmt.Printf("[%d -> %d] %s\n", msg.FromUserID, msg.ToUserID, msg.Content)
		return nil
	}))

	var connects atomic.Int32

	m.AddEventListener(connection.EventConnected, func(connection.Event) {
		if connects.Add(1) == 1 || peer == 0 {
			return
		}
		go catchUp(ctx, client, peer, logger)
	})
	m.AddEventListener(connection.EventDisconnected, func(connection.Event) {
		logger.Info("chat disconnected", "stats", m.Stats())
	})
	m.AddEventListener(connection.EventError, func(ev connection.Event) {
		logger.Warn("chat connection error", "error", ev.Err)
	})
	m.AddEventListener(connection.EventReconnectFailed, func(ev connection.Event) {
		logger.Error("chat connection lost",
			"attempts", ev.Attempts,
			"max_attempts", ev.MaxAttempts,
		)
	})
}

// catchUp prints the latest page of history with peer.
func catchUp(ctx context.Context, client *api.Client, peer int64, logger *slog.Logger) {
	page, err := client.MessageHistory(ctx, api.HistoryQuery{ToUserID: peer})
	if err != nil {
		logger.Warn("failed to fetch history after reconnect", "peer", peer, "error", err)
		return
	}

	logger.Info("fetched history after reconnect", "peer", peer, "messages", len(page.List))
	for i := len(page.List) - 1; i >= 0; i-- {
		msg := page.List[i]
		fmt.Printf("[history %d -> %d] %s\n", msg.FromUserID, msg.ToUserID, msg.Content)
	}
}

// sendLoop sends each non-empty stdin line to peer until ctx ends or input closes.
func sendLoop(ctx context.Context, client *api.Client, peer int64, in *os.File, logger *slog.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// Input closed; keep receiving until interrupted.
				<-ctx.Done()
				return ctx.Err()
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			sent, err := client.SendMessage(ctx, api.OutgoingMessage{ToUserID: peer, Content: line})
			if err != nil {
				logger.Warn("send failed", "peer", peer, "error", err)
				continue
			}
			logger.Debug("message sent", "id", strconv.FormatInt(sent.ID, 10), "client_msg_id", sent.ClientMsgID)
		}
	}
}
