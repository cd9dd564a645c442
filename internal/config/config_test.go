package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/pairtalk/internal/media"
)

func TestDefault(t *testing.T) {
	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.Listen != "127.0.0.1:0" || cfg.Relay.MaxMessageBytes != 64*1024 {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Peer.Backend != BackendSDP || cfg.Peer.AutoCall {
		t.Errorf("peer = %+v", cfg.Peer)
	}
	if len(cfg.Peer.STUNServers) != 2 {
		t.Errorf("stun servers = %v", cfg.Peer.STUNServers)
	}
	if cfg.Stats.Interval != 10*time.Second {
		t.Errorf("stats interval = %s", cfg.Stats.Interval)
	}
	kinds, err := cfg.MediaKinds()
	if err != nil || len(kinds) != 2 || kinds[0] != media.KindAudio {
		t.Errorf("media kinds = %v, %v", kinds, err)
	}
	if err := cfg.ValidateRelay(); err != nil {
		t.Errorf("ValidateRelay() = %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairtalk.yaml")
	data := []byte(`
peer:
  relay_url: ws://localhost:8080
  rooms: [standup]
  backend: webrtc
stats:
  interval: 30s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PAIRTALK_PEER_MEDIA", "audio")
	t.Setenv("PAIRTALK_PEER_AUTO_CALL", "true")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Peer.RelayURL != "ws://localhost:8080/ws" {
		t.Errorf("relay url = %s", cfg.Peer.RelayURL)
	}
	if len(cfg.Peer.Rooms) != 1 || cfg.Peer.Rooms[0] != "standup" {
		t.Errorf("rooms = %v", cfg.Peer.Rooms)
	}
	if cfg.Peer.Backend != BackendWebRTC || !cfg.Peer.AutoCall {
		t.Errorf("peer = %+v", cfg.Peer)
	}
	if len(cfg.Peer.Media) != 1 || cfg.Peer.Media[0] != "audio" {
		t.Errorf("media = %v", cfg.Peer.Media)
	}
	if cfg.Stats.Interval != 30*time.Second {
		t.Errorf("stats interval = %s", cfg.Stats.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Peer.RelayURL = "relay.example.com"
		cfg.Peer.Rooms = []string{"a", "b"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"no relay", func(c *Config) { c.Peer.RelayURL = "" }, ErrNoRelayURL},
		{"no rooms", func(c *Config) { c.Peer.Rooms = nil }, ErrNoRooms},
		{"duplicate room", func(c *Config) { c.Peer.Rooms = []string{"a", "a"} }, errAny},
		{"bad media", func(c *Config) { c.Peer.Media = []string{"screen"} }, errAny},
		{"bad backend", func(c *Config) { c.Peer.Backend = "sip" }, errAny},
		{"bad url", func(c *Config) { c.Peer.RelayURL = "ws://" }, errAny},
		{"negative interval", func(c *Config) { c.Stats.Interval = -time.Second }, errAny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("Validate() = %v", err)
			case tt.wantErr == errAny && err == nil:
				t.Fatal("Validate() = nil, want error")
			case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

var errAny = errors.New("any error")

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ws://localhost:8080", "ws://localhost:8080/ws"},
		{"wss://relay.example.com/ws", "wss://relay.example.com/ws"},
		{"https://abc.devtunnels.ms/", "wss://abc.devtunnels.ms/ws"},
		{"http://10.0.0.2:9000/anything", "ws://10.0.0.2:9000/ws"},
		{"  relay.example.com  ", "wss://relay.example.com/ws"},
	}
	for _, tt := range tests {
		got, err := NormalizeRelayURL(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("NormalizeRelayURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	for _, bad := range []string{"", "ws://", "://x"} {
		if _, err := NormalizeRelayURL(bad); err == nil {
			t.Errorf("NormalizeRelayURL(%q) accepted", bad)
		}
	}
}
