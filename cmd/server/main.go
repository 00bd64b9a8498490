package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"valley-of-ashes/internal/api"
	"valley-of-ashes/internal/config"
	"valley-of-ashes/internal/economy"
	"valley-of-ashes/internal/game"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🔥 ================================")
	log.Println("🔥  VALLEY OF ASHES - BATTLE SERVER")
	log.Println("🔥 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}
	serverCfg := appConfig.Server

	engine, err := game.NewEngine(game.EngineConfig{
		TickRate: serverCfg.TickRate,
		Sim:      &appConfig.Sim,
		Units:    appConfig.Units,
	})
	if err != nil {
		log.Fatalf("❌ Battle setup: %v", err)
	}
	log.Printf("🗺️ Match %s: %d units seeded, %d TPS", engine.MatchID(), len(engine.GetSnapshot().Units), engine.TickRate())

	// AI controllers run on the tick goroutine, so wire them before Start.
	controlled, err := economy.ParseControlled(serverCfg.AIFaction)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	ais := make([]*economy.AI, 0, len(controlled))
	for _, f := range controlled {
		ai, err := economy.NewAI(engine.Battle(), f, nil)
		if err != nil {
			log.Fatalf("❌ Economy AI: %v", err)
		}
		engine.AddController(ai)
		ais = append(ais, ai)
		log.Printf("🤖 Economy AI controls %s", f)
	}

	engine.OnTick = func(elapsed time.Duration, snap *game.BattleSnapshot) {
		api.RecordTick(elapsed, snap)
		api.UpdateEventLogStats(engine.EventLogCounts())
	}
	engine.OnEvents = api.RecordEvents

	if serverCfg.EventLogPath != "" {
		if err := engine.StartEventLog(serverCfg.EventLogPath); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			log.Printf("📝 Event log: %s", serverCfg.EventLogPath)
		}
	}

	if err := api.StartDebugServer(appConfig.Debug); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	server := api.NewServer(engine, func() map[string]interface{} {
		out := make(map[string]interface{}, len(ais))
		for _, ai := range ais {
			out[ai.Faction().String()] = ai.Stats()
		}
		return out
	})

	engine.Start()
	log.Println("✅ Battle engine started")

	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	engine.Stop()
	engine.StopEventLog()
	log.Println("👋 Goodbye!")
}
