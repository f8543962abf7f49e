// mesactl is the control-store admin CLI for mesa-engine. It talks to the
// control store directly: migrations, users, DSNs, tenants, and grants are
// managed here without going through the HTTP API. The login command issues
// a bearer token for testing the API surface.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
