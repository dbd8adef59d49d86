package main

import (
	"fmt"
	"os"

	"bienestar/internal/commands"
	"bienestar/internal/logging"

	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "0.0.0-dev"

func main() {
	// .env is optional
	_ = godotenv.Load()
	logging.Init()

	if err := commands.NewRootCmd(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
