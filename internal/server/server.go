package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/sachkumarathunga/LinkMate/internal/fanout"
	"github.com/sachkumarathunga/LinkMate/internal/router"
	"github.com/sachkumarathunga/LinkMate/internal/server/middleware"
	"github.com/sachkumarathunga/LinkMate/pkg/config"
	"github.com/sachkumarathunga/LinkMate/pkg/presence"
	"github.com/sachkumarathunga/LinkMate/pkg/presence/mirror"
	"github.com/sachkumarathunga/LinkMate/pkg/presence/registry"
	"github.com/sachkumarathunga/LinkMate/pkg/transport"
)

// Collaborators are the external stores the core consults. Nil fields fall
// back to allow-all identity and an empty chat directory.
type Collaborators struct {
	Identity  presence.IdentityLookup
	Directory presence.ChatDirectory
}

type App struct {
	logger      *slog.Logger
	manager     presence.Manager
	eventRouter *router.EventRouter
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, deps Collaborators) (*App, error) {
	manager := registry.NewInMemoryManager(logger)

	var presenceMirror mirror.Mirror = mirror.Nop{}
	if cfg.Presence.Mirror.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Presence.Mirror.Addr,
			Password: cfg.Presence.Mirror.Password,
			DB:       cfg.Presence.Mirror.DB,
		})
		m, err := mirror.NewRedisMirror(client, logger)
		if err != nil {
			return nil, err
		}
		presenceMirror = m
		logger.Info("Presence mirror enabled", slog.String("addr", cfg.Presence.Mirror.Addr))
	}

	eventRouter := router.NewEventRouter(logger, router.Deps{
		Manager:     manager,
		Fanout:      fanout.NewFanout(logger, manager, deps.Directory),
		Broadcaster: fanout.NewBroadcaster(logger, manager),
		Identity:    deps.Identity,
		Mirror:      presenceMirror,
		Limit:       cfg.Server.ConnectionLimit,
	})

	app := &App{
		logger:      logger,
		manager:     manager,
		eventRouter: eventRouter,
		config:      cfg,
		ctx:         rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				manager.ConnectionCountForIP,
				cfg.Server.MaxConnsPerIP,
			),
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	// register new connection; identity arrives later via the setup event.
	if _, err := a.manager.RegisterConnection(conn, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(a.eventRouter.HandleDisconnect)

	connLogger.Info("Connection established, awaiting setup", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.manager.AllConnections() {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
