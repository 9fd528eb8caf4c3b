// Command talna-server exposes an embedded talna database over HTTP:
// sample writes, aggregate queries, metric listing, and snapshot
// export.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/c2h5oh/datasize"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/talnadb/talna/pkg/config"
	"github.com/talnadb/talna/pkg/talna"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "listen address")
		dataDir       = flag.String("data", "./talna-data", "database directory")
		cache         = flag.String("cache", "64MB", "KV engine memory budget (e.g. 64MB, 1GB)")
		highPrecision = flag.Bool("high-precision", false, "store values as float64 (fixed at database creation)")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cacheSize, err := datasize.ParseString(*cache)
	if err != nil {
		logger.Fatal("invalid -cache value", zap.String("cache", *cache), zap.Error(err))
	}

	db, err := talna.Open(talna.Options{
		Path:          *dataDir,
		CacheMiB:      int64(cacheSize.MBytes()),
		HighPrecision: *highPrecision,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("open database", zap.String("data", *dataDir), zap.Error(err))
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newRouter(db, logger),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		logger.Info("listening", zap.String("addr", *addr), zap.String("data", *dataDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		logger.Error("database close", zap.Error(err))
	}
}

func newRouter(db *talna.Database, logger *zap.Logger) *mux.Router {
	h := &handlers{db: db, log: logger}

	r := mux.NewRouter()
	r.HandleFunc("/v1/write", h.handleWrite).Methods(http.MethodPost)
	r.HandleFunc("/v1/query", h.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/v1/metrics", h.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/v1/export", h.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	return r
}
