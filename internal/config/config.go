// Package config holds the CLI configuration: defaults, an optional YAML
// file, PAIRTALK_* environment variables and command-line flags, layered by
// viper in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/webrtc"
)

// EnvPrefix is prepended to every environment variable, e.g.
// PAIRTALK_PEER_RELAY_URL for peer.relay_url.
const EnvPrefix = "PAIRTALK"

// Backend selects the negotiation.Peer implementation.
type Backend string

const (
	BackendSDP    Backend = "sdp"    // synthesised descriptions, no network media
	BackendWebRTC Backend = "webrtc" // real pion PeerConnection
)

var (
	ErrNoRelayURL = errors.New("relay URL is required")
	ErrNoRooms    = errors.New("at least one room is required")
)

// Config stores every parameter of a pairtalk process.
type Config struct {
	Relay RelayConfig `mapstructure:"relay"`
	Peer  PeerConfig  `mapstructure:"peer"`
	Stats StatsConfig `mapstructure:"stats"`
	Debug bool        `mapstructure:"debug"`
}

// RelayConfig configures `pairtalk relay`.
type RelayConfig struct {
	// Listen is the TCP address to serve on; port 0 picks a free port.
	Listen string `mapstructure:"listen"`
	// MaxMessageBytes bounds one inbound WebSocket frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// PeerConfig configures `pairtalk join`.
type PeerConfig struct {
	RelayURL    string   `mapstructure:"relay_url"`
	Rooms       []string `mapstructure:"rooms"`
	Media       []string `mapstructure:"media"`
	Backend     Backend  `mapstructure:"backend"`
	AutoCall    bool     `mapstructure:"auto_call"`
	STUNServers []string `mapstructure:"stun_servers"`
}

// StatsConfig controls the periodic signaling stats line.
type StatsConfig struct {
	// Interval between reports; 0 disables the reporter.
	Interval time.Duration `mapstructure:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Listen:          "127.0.0.1:0",
			MaxMessageBytes: 64 * 1024,
		},
		Peer: PeerConfig{
			Media:       []string{string(media.KindAudio), string(media.KindVideo)},
			Backend:     BackendSDP,
			STUNServers: append([]string(nil), webrtc.DefaultSTUNServers...),
		},
		Stats: StatsConfig{Interval: 10 * time.Second},
	}
}

// SetDefaults registers Default() with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("relay.listen", d.Relay.Listen)
	v.SetDefault("relay.max_message_bytes", d.Relay.MaxMessageBytes)
	v.SetDefault("peer.relay_url", d.Peer.RelayURL)
	v.SetDefault("peer.rooms", d.Peer.Rooms)
	v.SetDefault("peer.media", d.Peer.Media)
	v.SetDefault("peer.backend", string(d.Peer.Backend))
	v.SetDefault("peer.auto_call", d.Peer.AutoCall)
	v.SetDefault("peer.stun_servers", d.Peer.STUNServers)
	v.SetDefault("stats.interval", d.Stats.Interval)
	v.SetDefault("debug", d.Debug)
}

// New returns a viper instance with defaults and environment lookup set up.
// Flags are bound by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional YAML file at path (empty: none) into v and decodes
// the merged result. The returned config is not validated.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Peer.Rooms = splitList(cfg.Peer.Rooms)
	cfg.Peer.Media = splitList(cfg.Peer.Media)
	cfg.Peer.STUNServers = splitList(cfg.Peer.STUNServers)
	return &cfg, nil
}

// splitList flattens comma-separated entries, which is how list values
// arrive from environment variables.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// MediaKinds parses Peer.Media.
func (c *Config) MediaKinds() ([]media.Kind, error) {
	return media.ParseKinds(c.Peer.Media)
}

// ValidateRelay checks the settings used by `pairtalk relay`.
func (c *Config) ValidateRelay() error {
	if c.Relay.Listen == "" {
		return errors.New("relay.listen must not be empty")
	}
	if c.Relay.MaxMessageBytes <= 0 {
		return fmt.Errorf("relay.max_message_bytes must be positive, got %d", c.Relay.MaxMessageBytes)
	}
	return nil
}

// Validate checks the settings used by `pairtalk join` and normalises the
// relay URL in place.
func (c *Config) Validate() error {
	if c.Peer.RelayURL == "" {
		return ErrNoRelayURL
	}
	u, err := NormalizeRelayURL(c.Peer.RelayURL)
	if err != nil {
		return err
	}
	c.Peer.RelayURL = u

	if len(c.Peer.Rooms) == 0 {
		return ErrNoRooms
	}
	seen := make(map[string]bool, len(c.Peer.Rooms))
	for _, r := range c.Peer.Rooms {
		if seen[r] {
			return fmt.Errorf("room %q listed twice", r)
		}
		seen[r] = true
	}

	if _, err := c.MediaKinds(); err != nil {
		return err
	}
	switch c.Peer.Backend {
	case BackendSDP, BackendWebRTC:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Peer.Backend, BackendSDP, BackendWebRTC)
	}
	if c.Stats.Interval < 0 {
		return fmt.Errorf("stats.interval must not be negative, got %s", c.Stats.Interval)
	}
	return nil
}

// NormalizeRelayURL validates a relay address and returns its WebSocket
// endpoint. A bare host defaults to wss; http(s) schemes map to ws(s).
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
