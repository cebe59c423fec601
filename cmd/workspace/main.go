package main

import (
	"log"

	"greencheck-workspace/internal/shared/config"
	"greencheck-workspace/internal/shared/server"
	"greencheck-workspace/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Setup(cfg.LogFile)
	defer telemetry.Sync()

	r, err := server.NewRouter(cfg)
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	addr := server.Addr(cfg.Port)
	log.Printf("Starting workspace console on %s (backend %s)", addr, cfg.APIBaseURL)

	if err := r.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
