package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "MergeWatch/pkg/http"
	pkgkafka "MergeWatch/pkg/kafka"
	"MergeWatch/pkg/logger"
)

// Closer releases one infrastructure client at shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the application lifecycle.
type App struct {
	l               *logger.Logger
	httpServer      *xhttp.Server
	consumer        *pkgkafka.Consumer
	handlers        []pkgkafka.MessageHandler
	closers         []Closer
	shutdownTimeout time.Duration
}

// New builds an App. consumer may be nil when Kafka consumption is disabled.
// Closers run in reverse order after the server and the consumer stopped.
func New(
	l *logger.Logger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	shutdownTimeout time.Duration,
	closers ...Closer,
) *App {
	if l == nil {
		l = logger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{
		l:               l,
		httpServer:      httpServer,
		consumer:        consumer,
		handlers:        handlers,
		closers:         closers,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and shuts it down once ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if a.consumer != nil {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", logger.Error(err))
		return errors.Join(err, a.shutdown())
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first, then releases clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", logger.Error(err))
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", logger.Error(err))
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.l.Warn("close error", logger.String("component", c.Name), logger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
