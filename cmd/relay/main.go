// relay: signaling relay for mentorcall sessions.
//
// Configuration comes from RELAY_* environment variables. With
// RELAY_REDIS_ADDR set, call presence is shared through Redis; otherwise it
// is kept in memory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/relay"
	"github.com/1ureka/mentorcall/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mint := flag.String("mint", "", "Print a development token for this user id and exit")
	mintTTL := flag.Duration("mint-ttl", 24*time.Hour, "Lifetime of a minted token")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	cfg := config.LoadRelay()

	if *mint != "" {
		if cfg.JWTSecret == "" {
			util.LogError("RELAY_JWT_SECRET is required to mint tokens")
			os.Exit(1)
		}
		token, err := relay.IssueToken(cfg.JWTSecret, protocol.ID(*mint), *mintTTL)
		if err != nil {
			util.LogError("failed to mint token: %v", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if cfg.JWTSecret == "" {
		util.LogWarning("RELAY_JWT_SECRET not set, clients are not authenticated")
	}

	var presence relay.Presence
	if cfg.Redis.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		p, err := relay.NewRedisPresence(pingCtx, cfg.Redis)
		cancel()
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		util.LogInfo("call presence stored in redis at %s", cfg.Redis.Addr)
		presence = p
	}

	if err := relay.NewServer(cfg, presence).Run(ctx); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay shut down")
}
