package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MainListActivity/MaPlayer/pkg/edge"
	"github.com/MainListActivity/MaPlayer/pkg/engine"
	"github.com/MainListActivity/MaPlayer/pkg/stats"
	"github.com/spf13/cobra"
)

func engineConfig(f *rootFlags) engine.Config {
	return engine.Config{
		CacheDir:       f.cacheDir,
		ChunkSize:      f.chunkSize,
		MaxConcurrency: f.maxConcurrency,
	}.WithDefaults()
}

// startEdge binds a loopback listener and serves the HTTP edge against
// eng's registry in the background, returning the bound address.
func startEdge(eng *engine.Engine, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", addr, err)
	}

	actual := ln.Addr().String()
	eng.SetListenerAddr(actual)

	srv := &http.Server{Handler: edge.NewHandler(eng.Registry(), nil)}
	go srv.Serve(ln) //nolint:errcheck

	return actual, nil
}

// parseHeaders turns repeated "Key: Value" flag values into a map.
func parseHeaders(raw []string) map[string]string {
	headers := make(map[string]string, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, ":", 2)
		if len(parts) != 2 {
			continue
		}
		headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return headers
}

func waitForInterrupt(ctx context.Context) {
	<-ctx.Done()
}

func errRequiredFlag(name string) error {
	return fmt.Errorf("missing required flag %s", name)
}

func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func printSnapshot(cmd *cobra.Command, snap stats.Snapshot) {
	cmd.Printf("download_bps=%.0f serve_bps=%.0f active_workers=%d cache_hit_rate=%.3f buffered_ahead=%d\n",
		snap.DownloadBPS, snap.ServeBPS, snap.ActiveWorkers, snap.CacheHitRate, snap.BufferedAhead)
}
