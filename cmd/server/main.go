package main

import (
	"context"
	"log"
	"os"

	"github.com/kaytervn/msa-backend/internal/server"
	"github.com/kaytervn/msa-backend/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Printf("startup: %v", err)
		os.Exit(1)
	}

	app.Run(context.Background())
}
