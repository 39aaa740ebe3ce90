// Package config reads settings for both binaries from the environment,
// with an optional .env file.
package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// Server configures the room service binary.
type Server struct {
	ListenAddr string
	DBPath     string
}

// Watch configures the headless watch client binary.
type Watch struct {
	ServerURL   string
	RoomID      string
	DisplayName string
	VideoURL    string
	ControlAddr string
}

// LoadServer reads server settings. A missing .env is fine; the
// environment alone is enough.
func LoadServer() (Server, error) {
	_ = godotenv.Load(".env")

	cfg := Server{
		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
		DBPath:     os.Getenv("DB_PATH"),
	}
	return cfg, nil
}

// LoadWatch reads watch-client settings. RoomID empty means create a new
// room, which then requires VideoURL.
func LoadWatch() (Watch, error) {
	_ = godotenv.Load(".env")

	cfg := Watch{
		ServerURL:   getenv("SERVER_URL", "http://localhost:8080"),
		RoomID:      os.Getenv("ROOM_ID"),
		DisplayName: getenv("DISPLAY_NAME", "guest"),
		VideoURL:    os.Getenv("VIDEO_URL"),
		ControlAddr: getenv("CONTROL_ADDR", "127.0.0.1:8090"),
	}
	if cfg.RoomID == "" && cfg.VideoURL == "" {
		return Watch{}, errors.New("either ROOM_ID or VIDEO_URL must be set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
