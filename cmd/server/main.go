package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/AumSorathiya/watch-together.github.io/internal/config"
	"github.com/AumSorathiya/watch-together.github.io/internal/hertzapi"
	"github.com/AumSorathiya/watch-together.github.io/internal/rooms"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadServer()
	if err != nil {
		ilog.EventError(ctx, err, "config_load_fail")
		os.Exit(1)
	}

	var memOpts []store.MemOption
	if cfg.DBPath != "" {
		persister, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			ilog.EventError(ctx, err, "sqlite_open_fail", "path", cfg.DBPath)
			os.Exit(1)
		}
		defer persister.Close()
		memOpts = append(memOpts, store.WithPersister(persister, persistDurable))
	}

	ms, err := store.NewMemStore(memOpts...)
	if err != nil {
		ilog.EventError(ctx, err, "store_init_fail")
		os.Exit(1)
	}

	roomManager := rooms.NewManager(ms)

	h := server.Default(server.WithHostPorts(cfg.ListenAddr))
	hertzapi.NewRouter(h, roomManager)

	go func() {
		ilog.EventInfo(ctx, "server_start", "addr", cfg.ListenAddr)
		h.Spin()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ilog.EventInfo(ctx, "server_stopping")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		ilog.EventError(ctx, err, "server_shutdown_fail")
	}

	ilog.EventInfo(ctx, "server_stopped")
}

// persistDurable keeps playback state and chat across restarts; presence
// and typing are ephemeral.
func persistDurable(path string) bool {
	return strings.HasSuffix(path, "/state") || strings.Contains(path, "/chat/")
}
