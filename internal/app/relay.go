// Package app contains the top-level orchestration for the relay and peer
// commands.
package app

import (
	"context"
	"fmt"

	"github.com/1ureka/pairtalk/internal/config"
	"github.com/1ureka/pairtalk/internal/signaling"
	"github.com/1ureka/pairtalk/internal/util"
)

// RunRelay serves the signaling relay until ctx is cancelled.
func RunRelay(ctx context.Context, cfg *config.Config) error {
	server := signaling.NewServer(signaling.ServerConfig{
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
	})
	port, err := server.Start(cfg.Relay.Listen)
	if err != nil {
		return err
	}
	defer server.Close()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║          pairtalk signaling relay        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Listen : %-30s ║\n", cfg.Relay.Listen)
	fmt.Printf("║  Port   : %-30d ║\n", port)
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Println("║  Peers join with:                        ║")
	fmt.Printf("║  pairtalk join --relay ws://<host>:%-5d ║\n", port)
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	util.StartStatsReporter(ctx, cfg.Stats.Interval)
	util.LogSuccess("relay listening on port %d", port)

	<-ctx.Done()
	util.LogInfo("relay shutting down")
	return nil
}
