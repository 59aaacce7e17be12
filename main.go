package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evalcollab/config"
	"evalcollab/config/database"
	"evalcollab/internal/activity/exporter"
	activityrepo "evalcollab/internal/activity/repository"
	activityservice "evalcollab/internal/activity/service"
	collabrepo "evalcollab/internal/collaboration/repository"
	"evalcollab/internal/collaboration/service"
	membershiprepo "evalcollab/internal/membership/repository"
	membershipservice "evalcollab/internal/membership/service"
	presencerepo "evalcollab/internal/presence/repository"
	presenceservice "evalcollab/internal/presence/service"
	"evalcollab/internal/realtime"
	"evalcollab/pkg/logger"
	"evalcollab/router"
	"evalcollab/socket"

	"github.com/joho/godotenv"
)

type stores struct {
	members  membershipservice.Store
	sessions presenceservice.Store
	activity activityservice.Store
	owners   service.OwnerLookup
	close    func()
}

func main() {
	if err := godotenv.Load(); err != nil {
		// Logger is not configured yet.
		os.Stderr.WriteString("No .env file found, using environment variables from OS\n")
	}

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Sugar.Fatalf("Failed to open %s stores: %v", cfg.StoreDriver, err)
	}
	defer st.close()

	transport := realtime.Transport(realtime.NewMemory())
	if cfg.RedisURL != "" {
		client, err := realtime.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Sugar.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		transport = realtime.NewRedis(client, realtime.DefaultPresenceTTL)
		logger.Sugar.Info("Realtime fan-out over redis")
	}

	exp, err := exporter.NewAMQPExporter(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	if err != nil {
		logger.Sugar.Fatalf("Failed to set up activity exporter: %v", err)
	}
	defer exp.Close()

	bus := activityservice.NewBus(st.activity, transport, exp, cfg.FeedPageSize, time.Now)
	bus.SetMaxPageSize(cfg.FeedMaxPageSize)
	defer bus.Cleanup()
	tracker := presenceservice.NewTracker(st.sessions, bus, bus, cfg.PresenceStaleAfter, time.Now)
	directory := membershipservice.NewDirectory(st.members, nil, time.Now)
	coord := service.NewCoordinator(directory, tracker, bus, st.owners)

	hub := socket.NewHub(coord)
	coord.SetDisconnector(hub)
	go hub.Run(ctx)

	if cfg.JWTSecret == "" {
		logger.Sugar.Warn("SUPABASE_JWT_SECRET is empty; every request will be rejected")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.Setup(coord, hub, cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Go Backend listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Warnf("HTTP shutdown: %v", err)
	}
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Sugar.Warn("Using in-memory stores; nothing survives a restart")
		return &stores{
			members:  membershiprepo.NewMemory(),
			sessions: presencerepo.NewMemory(),
			activity: activityrepo.NewMemory(),
			owners:   collabrepo.ParseMemoryOwners(cfg.MemoryOwners),
			close:    func() {},
		}, nil
	}

	db, err := database.Connect(cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}

	members := membershiprepo.NewCollaboratorRepository(db)
	sessions := presencerepo.NewSessionRepository(db)
	activity := activityrepo.NewActivityRepository(db)
	for _, m := range []interface{ Migrate(context.Context) error }{members, sessions, activity} {
		if err := m.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &stores{
		members:  members,
		sessions: sessions,
		activity: activity,
		owners:   collabrepo.NewOwnerRepository(db),
		close:    func() { db.Close() },
	}, nil
}
