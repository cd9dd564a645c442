// pairtalk: CLI entry point.
//
// pairtalk pairs two participants of a room into a WebRTC call. One process
// runs the signaling relay (`pairtalk relay`); every participant runs
// `pairtalk join`, which negotiates one session per room through the relay.
//
// Flags override PAIRTALK_* environment variables, which override the
// optional YAML file given by --config. A missing relay URL or room is asked
// for interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1ureka/pairtalk/internal/app"
	"github.com/1ureka/pairtalk/internal/config"
	"github.com/1ureka/pairtalk/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(runners{
		relay:       app.RunRelay,
		peer:        app.RunPeer,
		interactive: true,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// runners are the actions behind the subcommands.
type runners struct {
	relay func(context.Context, *config.Config) error
	peer  func(context.Context, *config.Config) error
	// interactive enables pterm prompts for missing join settings.
	interactive bool
}

func newRootCmd(r runners) *cobra.Command {
	v := config.New()
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "pairtalk",
		Short: "Two-party WebRTC calls over a room relay",
		Long: `pairtalk negotiates one audio/video session per room between exactly
two participants, exchanging offers, answers and ICE candidates through a
small WebSocket relay.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			loaded, err := config.Load(v, path)
			if err != nil {
				return err
			}
			cfg = loaded
			if cfg.Debug {
				util.EnableDebug()
			}
			pterm.Info.Println(fmt.Sprintf("pairtalk — v%s", version))
			pterm.Println()
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file")
	pf.Bool("debug", false, "Enable debug logging")
	pf.Duration("stats-interval", 0, "Signaling stats report interval, 0 disables (default 10s)")
	bind(v, pf, "debug", "debug")
	bind(v, pf, "stats.interval", "stats-interval")

	relay := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.ValidateRelay(); err != nil {
				return err
			}
			return r.relay(cmd.Context(), cfg)
		},
	}
	rf := relay.Flags()
	rf.String("listen", "", "Listen address (default 127.0.0.1:0)")
	rf.Int64("max-message-bytes", 0, "Largest accepted signaling frame (default 65536)")
	bind(v, rf, "relay.listen", "listen")
	bind(v, rf, "relay.max_message_bytes", "max-message-bytes")

	join := &cobra.Command{
		Use:   "join",
		Short: "Join one or more rooms and take part in their calls",
		Example: `  pairtalk join --relay ws://localhost:8080 --room standup --auto-call
  pairtalk join --relay relay.example.com --room a --room b --media audio`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if r.interactive {
				askMissing(cmd, cfg)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			util.LogInfo("relay %s | rooms %s | media %s | backend %s",
				cfg.Peer.RelayURL,
				strings.Join(cfg.Peer.Rooms, ","),
				strings.Join(cfg.Peer.Media, "+"),
				cfg.Peer.Backend,
			)
			return r.peer(cmd.Context(), cfg)
		},
	}
	jf := join.Flags()
	jf.String("relay", "", "Relay URL or host (e.g. ws://localhost:8080)")
	jf.StringSlice("room", nil, "Room to join; repeat for several rooms")
	jf.StringSlice("media", nil, "Media kinds to send: audio, video (default both)")
	jf.String("backend", "", "Peer backend: sdp or webrtc (default sdp)")
	jf.Bool("auto-call", false, "Call as soon as the other participant is present")
	jf.StringSlice("stun", nil, "STUN server URLs")
	bind(v, jf, "peer.relay_url", "relay")
	bind(v, jf, "peer.rooms", "room")
	bind(v, jf, "peer.media", "media")
	bind(v, jf, "peer.backend", "backend")
	bind(v, jf, "peer.auto_call", "auto-call")
	bind(v, jf, "peer.stun_servers", "stun")

	root.AddCommand(relay, join)
	return root
}

// bind makes flag the highest-precedence source of key. Viper only consults
// a flag once it has been set, so the zero flag defaults above never mask a
// config file or environment value.
func bind(v *viper.Viper, fs *pflag.FlagSet, key, flag string) {
	_ = v.BindPFlag(key, fs.Lookup(flag))
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askMissing fills in what `join` cannot run without. When anything had to be
// asked, the call mode is confirmed too unless --auto-call was given.
func askMissing(cmd *cobra.Command, cfg *config.Config) {
	asked := false
	if cfg.Peer.RelayURL == "" {
		cfg.Peer.RelayURL = askURL()
		asked = true
	}
	if len(cfg.Peer.Rooms) == 0 {
		cfg.Peer.Rooms = askRooms()
		asked = true
	}
	if asked && !cmd.Flags().Changed("auto-call") && !cfg.Peer.AutoCall {
		autoCall, _ := pterm.DefaultInteractiveConfirm.
			WithDefaultText("Call automatically when the other participant joins?").
			WithDefaultValue(true).
			Show()
		cfg.Peer.AutoCall = autoCall
		pterm.Println()
	}
}

// askURL prompts for the relay address until a valid one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. ws://localhost:8080 or relay.example.com)").
			Show()

		wsURL, err := config.NormalizeRelayURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askRooms prompts for a comma-separated list of room names.
func askRooms() []string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room(s), comma separated").
			Show()

		rooms := parseRooms(raw)
		if len(rooms) > 0 {
			pterm.Println()
			return rooms
		}

		pterm.Println()
		util.LogWarning("invalid input: at least one room name is required")
	}
}

func parseRooms(raw string) []string {
	var rooms []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	return rooms
}
