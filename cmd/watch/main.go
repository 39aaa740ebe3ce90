package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/RanFeng/ilog"
	"golang.org/x/sync/errgroup"

	"github.com/AumSorathiya/watch-together.github.io/internal/chat"
	"github.com/AumSorathiya/watch-together.github.io/internal/config"
	"github.com/AumSorathiya/watch-together.github.io/internal/httpapi"
	"github.com/AumSorathiya/watch-together.github.io/internal/presence"
	"github.com/AumSorathiya/watch-together.github.io/internal/rooms"
	"github.com/AumSorathiya/watch-together.github.io/internal/syncer"
	"github.com/AumSorathiya/watch-together.github.io/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWatch()
	if err != nil {
		ilog.EventError(ctx, err, "config_load_fail")
		os.Exit(1)
	}

	session, err := openSession(ctx, cfg)
	if err != nil {
		ilog.EventError(ctx, err, "session_open_fail", "server", cfg.ServerURL)
		os.Exit(1)
	}
	ilog.EventInfo(ctx, "session_open", "room_id", session.RoomID, "user_id", session.UserID)

	st, err := ws.Dial(ctx, cfg.ServerURL, session.RoomID, session.Token)
	if err != nil {
		ilog.EventError(ctx, err, "store_dial_fail", "room_id", session.RoomID)
		os.Exit(1)
	}
	defer st.Close()

	ctrl := syncer.New(st, session.UserID)
	tracker := presence.New(st, session.UserID, session.DisplayName,
		presence.WithHostChange(ctrl.SetHost))
	chatClient := chat.New(st, session.UserID, session.DisplayName)
	defer chatClient.Stop()

	api := httpapi.NewServer(ctrl, tracker, chatClient)
	control := &http.Server{Addr: cfg.ControlAddr, Handler: api.Router()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return tracker.Run(ctx) })
	g.Go(func() error { return chatClient.Follow(ctx, api.Record) })
	g.Go(func() error {
		ilog.EventInfo(ctx, "control_api_start", "addr", cfg.ControlAddr)
		if err := control.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return control.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		ilog.EventError(ctx, err, "watch_client_fail")
		os.Exit(1)
	}
	ilog.EventInfo(ctx, "watch_client_stopped", "room_id", session.RoomID)
}

// openSession creates a room when no ROOM_ID was given, otherwise joins
// the existing one.
func openSession(ctx context.Context, cfg config.Watch) (rooms.Session, error) {
	if cfg.RoomID == "" {
		return postJSON(ctx, cfg.ServerURL+"/api/rooms/create", map[string]string{
			"displayName": cfg.DisplayName,
			"videoUrl":    cfg.VideoURL,
		})
	}
	return postJSON(ctx, cfg.ServerURL+"/api/rooms/join/"+cfg.RoomID, map[string]string{
		"displayName": cfg.DisplayName,
	})
}

func postJSON(ctx context.Context, url string, payload map[string]string) (rooms.Session, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return rooms.Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return rooms.Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return rooms.Session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return rooms.Session{}, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var session rooms.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return rooms.Session{}, err
	}
	return session, nil
}
