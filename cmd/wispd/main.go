// Command wispd is a headless Peer Engine demo driver: it loads an
// identity, dials a Session Hub, and drives register/auth/send/receive
// from a line-oriented stdin loop. There is no GUI layer (spec §1's
// non-goal) — this is the CLI shape of the teacher's desktop App
// startup lifecycle (cmd/concord/main.go), adapted from Wails to a
// plain process.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/config"
	"github.com/wisp-chat/wisp/internal/connection"
	"github.com/wisp-chat/wisp/internal/directory"
	"github.com/wisp-chat/wisp/internal/history"
	"github.com/wisp-chat/wisp/internal/identity"
	"github.com/wisp-chat/wisp/internal/observability"
	"github.com/wisp-chat/wisp/internal/outbox"
	"github.com/wisp-chat/wisp/internal/peerengine"
	"github.com/wisp-chat/wisp/internal/protocol"
	"github.com/wisp-chat/wisp/internal/vault"
	"github.com/wisp-chat/wisp/pkg/version"
)

func main() {
	cfg, err := config.Load(os.Getenv("WISP_CLIENT_CONFIG"))
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:        cfg.GetLogLevel(),
		Format:       cfg.Logging.Format,
		OutputPath:   cfg.Logging.OutputPath,
		EnableCaller: cfg.Logging.EnableCaller,
		Service:      "wispd",
		Version:      version.Version,
	})

	logger.Info().Str("version", version.Version).Msg("starting wispd peer engine driver")

	v, err := openVault(cfg.Vault, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open key vault")
	}
	defer v.Close()

	idMgr := identity.NewManager(v, logger)
	id, err := idMgr.EnsureIdentity(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to establish identity")
	}
	logger.Info().Str("user_id", id.UserID).Msg("identity ready")

	connCfg := connection.DefaultConfig()
	connCfg.HeartbeatInterval = cfg.Heartbeat.Interval
	connCfg.PongTimeout = cfg.Heartbeat.PongTimeout
	connCfg.ReconnectDelays = cfg.Reconnect.BaseDelays
	connCfg.ReconnectMaxDelay = cfg.Reconnect.MaxDelay
	connCfg.MaxAttempts = cfg.Reconnect.MaxAttempts
	connCfg.RequestTimeout = cfg.Security.RequestTimeout

	events := make(chan connection.Event, 16)
	conn := connection.New(connCfg, idMgr, events, logger)

	eng := peerengine.New(idMgr, conn, nil, outbox.New(logger), history.New(logger), logger)
	dir := directory.New(eng, make(chan directory.StatusEvent, 16))
	eng.SetDirectory(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start peer engine")
	}
	defer eng.Stop()

	go logConnectionEvents(events, logger)
	go logIncomingMessages(eng, logger)

	hubURL := os.Getenv("WISP_HUB_URL")
	if hubURL == "" {
		hubURL = fmt.Sprintf("ws://127.0.0.1:%d%s", cfg.Hub.Port, cfg.Hub.Path)
	}

	if err := conn.Connect(ctx, hubURL, false); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to hub")
	}
	defer conn.Disconnect()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("shutdown signal received")
		cancel()
		os.Exit(0)
	}()

	fmt.Printf("wisp> connected to %s as %s\n", hubURL, id.UserID)
	fmt.Println("commands: register <nickname> | auth | users | send <userID> <text> | history <userID> | quit")
	runREPL(ctx, eng, logger)
}

func openVault(cfg config.VaultConfig, logger zerolog.Logger) (vault.Vault, error) {
	switch cfg.Backend {
	case "sqlite":
		return vault.NewSQLiteVault(vault.SQLiteConfig{
			Path:            cfg.Path,
			MaxOpenConns:    1,
			ConnMaxLifetime: time.Hour,
			BusyTimeout:     5 * time.Second,
		}, logger)
	default:
		return vault.NewMemoryVault(), nil
	}
}

func logConnectionEvents(events <-chan connection.Event, logger zerolog.Logger) {
	for ev := range events {
		switch ev.Kind {
		case connection.EventConnected:
			logger.Info().Msg("connected to hub")
		case connection.EventDisconnected:
			logger.Warn().Msg("disconnected from hub")
		case connection.EventReconnecting:
			logger.Info().Int("attempt", ev.Attempt).Msg("reconnecting")
		case connection.EventReconnectFailed:
			logger.Error().Err(ev.Err).Msg("reconnect attempts exhausted")
		}
	}
}

func logIncomingMessages(eng *peerengine.Engine, logger zerolog.Logger) {
	for {
		select {
		case msg, ok := <-eng.Messages():
			if !ok {
				return
			}
			fmt.Printf("\n[%s] %s: %s\n> ", msg.Timestamp, msg.SenderID, string(msg.Plaintext))
		case err, ok := <-eng.Errors():
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("peer engine error")
		case ev, ok := <-eng.Calls():
			if !ok {
				return
			}
			fmt.Printf("\n[call] %s from %s (call %s)\n> ", ev.Kind, ev.From, ev.CallID)
		}
	}
}

// runREPL drives a simple line-oriented command loop until ctx is
// canceled or stdin is closed. This is the demo driver's entire UI —
// no GUI layer is carried forward from the teacher's Wails shell.
func runREPL(ctx context.Context, eng *peerengine.Engine, logger zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		cmd := fields[0]

		reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		switch cmd {
		case "register":
			if len(fields) < 2 {
				fmt.Println("usage: register <nickname>")
				break
			}
			if err := eng.Register(reqCtx, fields[1]); err != nil {
				fmt.Printf("register failed: %v\n", err)
			} else {
				fmt.Println("registered")
			}

		case "auth":
			if err := eng.Authenticate(reqCtx); err != nil {
				fmt.Printf("auth failed: %v\n", err)
			} else {
				fmt.Println("authenticated")
			}

		case "users":
			list, err := eng.RequestUsersList(reqCtx)
			if err != nil {
				fmt.Printf("request failed: %v\n", err)
				break
			}
			for _, u := range list {
				status := "offline"
				if u.Online {
					status = "online"
				}
				fmt.Printf("  %s (%s) [%s]\n", u.UserID, u.Nickname, status)
			}

		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <userID> <text>")
				break
			}
			if err := eng.Send(reqCtx, fields[1], []byte(fields[2]), protocol.MessageText); err != nil {
				fmt.Printf("send failed: %v\n", err)
			} else {
				fmt.Println("sent")
			}

		case "history":
			if len(fields) < 2 {
				fmt.Println("usage: history <userID>")
				break
			}
			msgs, err := eng.GetHistory(reqCtx, fields[1], 50, "")
			if err != nil {
				fmt.Printf("history failed: %v\n", err)
				break
			}
			for _, m := range msgs {
				fmt.Printf("  [%s] %s: %s\n", m.Timestamp, m.SenderID, string(m.Plaintext))
			}

		case "quit", "exit":
			cancel()
			return

		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
		cancel()
	}
}
