// Package server wires the relay together: record store, encrypted storage,
// connection registry and session machine behind the HTTP/websocket and
// gRPC endpoints. It handles signals and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/logging"
	"github.com/dmitrijs2005/filerelay/internal/server/config"
	"github.com/dmitrijs2005/filerelay/internal/server/httpapi"
	"github.com/dmitrijs2005/filerelay/internal/server/keys"
	"github.com/dmitrijs2005/filerelay/internal/server/registry"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"github.com/dmitrijs2005/filerelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/filerelay/internal/server/storage"
	"github.com/dmitrijs2005/filerelay/internal/server/transfers"

	gs "github.com/dmitrijs2005/filerelay/internal/server/grpc"
)

// maxMessageSize bounds one inbound relay message on either transport.
const maxMessageSize = 4 * common.MiB

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	machine    *relay.Machine
	httpServer *httpapi.Server
	grpcServer *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.New(os.Stdout, c.LogFormat, c.LogLevel)

	km, err := keys.NewManager(c.EncryptionKey, c.EncryptionKeySalt)
	if err != nil {
		return nil, fmt.Errorf("key manager init error: %w", err)
	}
	if km.Generated() {
		logger.Warn(ctx, "no encryption key configured, using a random key; stored files will be unreadable after restart")
	}

	rm, err := repomanager.New(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}

	db, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := rm.RunMigrations(ctx, db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	backend, err := storage.NewBackend(ctx, c.StorageBackend, c.StoragePath, storage.S3Config{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("storage backend init error: %w", err)
	}

	sm, err := storage.NewEncryptedManager(km, backend, logger, storage.Options{
		MaxSize:      c.MaxUploadSize,
		AllowedTypes: c.AllowedTypes,
		Workers:      c.StorageWorkers,
		ScratchDir:   c.ScratchPath,
	})
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	ts := transfers.NewService(rm.Records(db), sm, logger)
	reg := registry.New(logger)
	m := relay.New(reg, ts.RelayRecords(), logger, relay.Options{IdleTimeout: c.SessionIdleTimeout})

	hs := httpapi.NewServer(httpapi.Options{
		Address:           c.EndpointAddrHTTP,
		Secret:            []byte(c.SecretKey),
		AllowedOrigins:    c.AllowedOrigins,
		MaxMessageSize:    maxMessageSize,
		RateLimitRequests: c.RateLimitRequests,
		RateLimitWindow:   c.RateLimitWindow,
	}, logger, sm, ts, reg, m)

	gsrv := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, []byte(c.SecretKey), maxMessageSize, reg, m)

	return &App{config: c, logger: logger, db: db, machine: m, httpServer: hs, grpcServer: gsrv}, nil
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// start runs one component; a failure brings the whole app down.
func (app *App) start(ctx context.Context, cancelFunc context.CancelFunc, wg *sync.WaitGroup, name string, run func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil {
			app.logger.Error(ctx, "component failed", "component", name, "error", err)
			cancelFunc()
		}
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	app.start(ctx, cancelFunc, &wg, "http", app.httpServer.Run)
	if app.config.EndpointAddrGRPC != "" {
		app.start(ctx, cancelFunc, &wg, "grpc", app.grpcServer.Run)
	}
	app.start(ctx, cancelFunc, &wg, "relay", func(ctx context.Context) error {
		app.machine.Run(ctx)
		return nil
	})

	wg.Wait()

	closeDB(app.db)
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
}
