package main

import (
	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/internal"
	"chat-sync/observability"
	"chat-sync/projection"
	"chat-sync/repositories"
	"chat-sync/runtime"
	"chat-sync/runtime/workers"
	"chat-sync/services"
	"chat-sync/sink"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the store, the services and one session, then blocks until /quit or a signal.
// Returning instead of exiting lets every deferred close run.
func run() error {
	roomFlag := flag.String("room", "", "6-digit code of the room to join")
	createFlag := flag.String("create", "", "create a room with this name and join it")
	flag.Parse()

	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	if config.AuthToken == "" {
		return fmt.Errorf("%w: AUTH_TOKEN is required", errors.ErrValidation)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Store
	store, closeStore, err := openStore(ctx, config, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Services
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	identity := auth.NewTokenIdentityProvider(auth.NewTokens(config.AuthSecret, config.AuthTokenDuration))
	users := services.NewUserService(store, log)
	presence := services.NewPresenceManager(store, log, metrics)
	stream := services.NewMessageStream(store, log, metrics)
	rooms := services.NewRoomService(store, log, config.RoomCodeAttempts)
	chat := services.NewChatService(presence, stream, rooms)

	authSession := domain.AuthSession{Token: config.AuthToken}
	me, err := identity.Resolve(ctx, authSession)
	if err != nil {
		return fmt.Errorf("identity error: %w", err)
	}

	// 4. Room
	roomID := domain.RoomID(*roomFlag)
	if *createFlag == "" {
		if err := roomID.ValidateCode(); err != nil {
			return err
		}
	} else {
		member, err := users.ResolveMember(ctx, me)
		if err != nil {
			return err
		}
		if roomID, err = chat.CreateRoom(ctx, *createFlag, member.UID, member.DisplayName); err != nil {
			return fmt.Errorf("room creation failed: %w", err)
		}
	}
	room, err := rooms.Room(ctx, roomID)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("  ====== %s (%s) ======", room.Name, room.ID)
	if config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	fmt.Println(header)

	// 5. Session, sinks & workers
	timeline := projection.NewTimeline(me.UID, metrics)
	console := sink.NewConsoleSink(os.Stdout, me.UID, config.Colours, log)
	fanout := workers.NewEventFanout(log, config.EventBufferSize, config.SinkTimeout, timeline, console)

	session := runtime.NewSession(runtime.SessionDeps{
		Identity:     identity,
		Users:        users,
		Presence:     presence,
		Messages:     stream,
		Sink:         fanout,
		Log:          log,
		Metrics:      metrics,
		LeaveTimeout: config.LeaveTimeout,
	}, authSession)
	sessions := runtime.NewRegistry()
	sessions.Register(me.UID, room.ID, session)
	defer sessions.Unregister(me.UID, room.ID)

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		fanout,
		workers.NewChannelCapacityWorker(log, metrics, []workers.NamedChannel{fanout.Queue()},
			config.MetricInterval, config.LowCapacityThreshold),
	)
	if config.MetricsAddr != "" {
		server, err := internal.NewMetricsServer(log, config.MetricsAddr, registry)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", config.MetricsAddr, err)
		}
		sup.Add(server)
	}

	// workers outlive ctx so that the events of the final leave are still rendered
	supervised := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(supervised)
	}()
	defer func() {
		sup.Stop()
		<-supervised
	}()

	if err := session.Start(ctx, room.ID); err != nil {
		return fmt.Errorf("session failed to start: %w", err)
	}
	// input is only read once the session can send it
	sup.Launch(workers.NewPromptWorker(log, os.Stdin, os.Stdout, session, timeline, stop))

	// 6. Wait for /quit or a signal, then leave
	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	return shutdown(sessions, config, log)
}

// shutdown leaves every room within LEAVE_TIMEOUT. A second signal abandons the sessions.
func shutdown(sessions *runtime.Registry, config internal.Config, log *slog.Logger) error {
	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	ctx, cancel := context.WithTimeout(context.Background(), config.LeaveTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sessions.StopAll(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("leave failed: %w", err)
		}
		log.Info("Program stopped cleanly")
		return nil
	case <-force:
		log.Warn("Forced exit, membership may be left behind")
		sessions.AbandonAll()
		return nil
	}
}

// openStore returns the configured DocumentStore and the function releasing it.
func openStore(ctx context.Context, config internal.Config, log *slog.Logger) (contract.DocumentStore, func(), error) {
	switch config.StoreDriver {
	case internal.DriverBadger:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		store := repositories.NewBadgerStore(db, log)
		return store, func() {
			log.Info("Closing BadgerDB...")
			_ = store.Close()
			_ = db.Close()
		}, nil
	case internal.DriverRedis:
		store, err := repositories.NewRedisStore(ctx, config.RedisURL, config.RedisKeyPrefix, log)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errors.ErrUnknownDriver, config.StoreDriver)
	}
}
