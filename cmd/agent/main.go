package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"fieldproof/internal/audit"
	"fieldproof/internal/channel"
	"fieldproof/internal/config"
	"fieldproof/internal/connectivity"
	"fieldproof/internal/coordinate"
	"fieldproof/internal/delivery"
	"fieldproof/internal/httpapi"
	"fieldproof/internal/localstore"
	"fieldproof/internal/replicate"
	"fieldproof/internal/session"
	"fieldproof/internal/syncerr"
	"fieldproof/internal/syncsvc"
	"fieldproof/pkg/logger"
	"fieldproof/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := localstore.Open(localstore.Config{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	})
	if err != nil {
		log.Error("local store init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Replication store is a collaborator, not a dependency: the agent
	// boots and captures evidence with no connectivity at all.
	var remote replicate.Store
	if cfg.ReplicationEnabled() {
		pg, err := utils.OpenPostgresDeferred("pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("replication store init failed", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		remote = replicate.NewPostgresStore(pg)
	}

	var probe connectivity.Probe
	if remote != nil {
		httpProbe := connectivity.NewHTTPProbe(remote, cfg.Sync.ProbeInterval, log)
		go httpProbe.Run(rootCtx)
		probe = httpProbe
	} else {
		probe = connectivity.NewStaticProbe(false)
	}

	var sess *session.Manager
	tokens := session.NewTokenStore(db)
	if cfg.Auth.JWTSecret != "" {
		sess, err = session.NewManager(cfg.Auth, cfg.App.DeviceID)
		if err != nil {
			log.Error("session init failed", "err", err)
			os.Exit(1)
		}
		sess.WithOnlineFunc(probe.Online)
		if err := session.Restore(sess, tokens); err != nil {
			log.Warn("session restore failed", "err", err)
		}
	}

	// Late-bound: the queue and ledger are constructed after the manager
	// because the retry pass closes over all three.
	var (
		queue   *delivery.Queue
		ledger  *audit.Ledger
		syncMgr *syncsvc.Manager
	)
	syncMgr = syncsvc.NewManager(syncsvc.Policy{
		InitialDelay: cfg.Sync.InitialDelay,
		Multiplier:   cfg.Sync.Multiplier,
		MaxDelay:     cfg.Sync.MaxDelay,
		JitterFactor: cfg.Sync.JitterFactor,
		MaxRetries:   cfg.Sync.MaxRetries,
	}, syncsvc.NewBadgerStateStore(db), log,
		syncsvc.WithRetryFunc(func(ctx context.Context) {
			syncPass(ctx, syncMgr, ledger, queue, probe)
		}),
		syncsvc.WithExhaustionFunc(func(se *syncerr.SyncError) {
			if queue != nil {
				queue.Alert(delivery.SeverityError, se.UserMessage)
			}
		}))

	ledgerOpts := []audit.LedgerOption{
		audit.WithOfflineSignal(func() bool { return !probe.Online() }),
		audit.WithSyncFailureHandler(func(se *syncerr.SyncError) { syncMgr.Fail(se) }),
	}
	if remote != nil {
		ledgerOpts = append(ledgerOpts, audit.WithReplicator(replicate.EventReplicator{Store: remote}))
	}
	if sess != nil {
		ledgerOpts = append(ledgerOpts, audit.WithIdentity(sess))
	}
	ledger = audit.NewLedger(audit.NewBadgerStore(db), log, ledgerOpts...)

	rdb, rdbErr := openRedis(rootCtx, cfg)
	if rdbErr != nil {
		log.Warn("redis init failed, coordination degrades to no-op", "err", rdbErr)
	}
	if rdb != nil {
		defer rdb.Close()
	}
	coord := coordinate.NewCoordinator(rootCtx, rdb, cfg.App.DeviceID, cfg.Sync.ClaimTTL, log)

	queue, err = buildQueue(cfg, db, probe, coord, remote, syncMgr, log)
	if err != nil {
		log.Error("delivery queue init failed", "err", err)
		os.Exit(1)
	}
	go queue.Run(rootCtx, cfg.Sync.DrainInterval)

	// Offline→online transitions run a sync pass immediately; the pass
	// drains the queue and re-replicates pending audit events.
	probe.Subscribe(func(online bool) {
		if online {
			syncMgr.ForceRetry(rootCtx)
		}
	})

	// Auth-family failures invalidate local session artifacts: the next
	// capture proceeds under the device fallback identity until re-login.
	if sess != nil {
		syncMgr.Subscribe(func(s syncsvc.State) {
			if s.LastError != nil && s.LastError.RecoveryAction == syncerr.RecoveryReauthenticate {
				sess.ClearArtifacts()
				if err := tokens.Clear(); err != nil {
					log.Warn("session artifact clear failed", "err", err)
				}
			}
		})
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Ledger: ledger,
		Sync:   syncMgr,
		Queue:  queue,
	}, probe)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("agent listening", "addr", srv.Addr, "env", cfg.App.Env, "device_id", cfg.App.DeviceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func buildQueue(
	cfg config.Config,
	db *localstore.DB,
	probe connectivity.Probe,
	coord coordinate.Coordinator,
	remote replicate.Store,
	syncMgr *syncsvc.Manager,
	log *slog.Logger,
) (*delivery.Queue, error) {
	opts := []delivery.Option{
		delivery.WithDrainGuard(coord),
		delivery.WithStatsFunc(syncMgr.SetQueueStats),
	}
	if remote != nil {
		opts = append(opts, delivery.WithRecorder(remote))
	}

	// The registry is assembled in two steps because the in-app channel
	// delivers into the queue's own notification center.
	reg := channel.Registry{}
	if cfg.Delivery.WebhookEndpoint != "" {
		wh := channel.NewWebhookChannel("webhook", cfg.Delivery.WebhookEndpoint, cfg.Delivery.WebhookTimeout)
		reg[wh.Name()] = wh
	}
	queue, err := delivery.NewQueue(reg, delivery.NewBadgerStore(db), probe, cfg.Sync.MaxRetries, log, opts...)
	if err != nil {
		return nil, err
	}
	inapp := channel.NewInAppChannel(queue)
	reg[inapp.Name()] = inapp
	return queue, nil
}

// syncPass is one end-to-end recovery pass: drain the delivery queue, then
// re-replicate every audit event still pending, and report the outcome back
// into the state machine so the backoff loop either stops (Succeed) or keeps
// scheduling (Fail).
func syncPass(ctx context.Context, syncMgr *syncsvc.Manager, ledger *audit.Ledger, queue *delivery.Queue, probe connectivity.Probe) {
	syncMgr.Begin()
	if queue != nil {
		if err := queue.Drain(ctx); err != nil {
			syncMgr.Fail(syncerr.Classify(err, !probe.Online()))
			return
		}
	}
	if ledger != nil {
		if _, err := ledger.ReplicateAllPending(ctx); err != nil {
			var se *syncerr.SyncError
			if !errors.As(err, &se) {
				se = syncerr.Classify(err, !probe.Online())
			}
			syncMgr.Fail(se)
			return
		}
	}
	syncMgr.Succeed()
}

// openRedis connects to the coordination backend when one is configured.
// Any failure here is survivable: the coordinator degrades to no-op and the
// remote store's id dedup absorbs duplicate drains.
func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if !cfg.CoordinationEnabled() {
		return nil, nil
	}
	return utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
}
