package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/irc4go/ircd/irc"
	"github.com/irc4go/ircd/irc/admind"
	"github.com/irc4go/ircd/irc/auth"
	"github.com/irc4go/ircd/irc/config"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML, TOML or JSON)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting %s (%s) on %s", cfg.Server.Name, cfg.Server.Version, cfg.ListenAddress())

	accounts := auth.NewStore(cfg.Auth.DefaultAdminUsername, cfg.Auth.DefaultAdminPassword)
	server := irc.NewServer(cfg, accounts)

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	var admin *admind.Server
	if cfg.Admin.Enabled {
		admin = admind.New(server, cfg)
		go func() {
			if err := admin.Start(); err != nil {
				log.Printf("Admin API stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, stopping server...")

	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := admin.Stop(ctx); err != nil {
			log.Printf("Error stopping admin API: %v", err)
		}
		cancel()
	}
	server.Stop()

	log.Println("Server stopped. Goodbye!")
}
