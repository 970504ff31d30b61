// glimpsed is the tracker daemon. It runs the capture-classify-merge loop
// until interrupted. With -set-credential SERVICE it instead prompts for an
// API key, stores it encrypted in the vault, and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/glimpse-app/glimpse/internal/app"
	"github.com/glimpse-app/glimpse/internal/config"
	"github.com/glimpse-app/glimpse/internal/flagx"
	"github.com/glimpse-app/glimpse/internal/logging"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewDefault()
	ctx := context.Background()

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup error", "error", err)
		os.Exit(1)
	}

	if service := credentialService(); service != "" {
		if err := setCredential(ctx, a, service); err != nil {
			logger.Error(ctx, "credential store error", "error", err)
			os.Exit(1)
		}
		fmt.Printf("credential stored for %s\n", service)
		return
	}

	if err := a.Run(ctx); err != nil {
		logger.Error(ctx, "run error", "error", err)
		os.Exit(1)
	}
}

// credentialService extracts the -set-credential flag, if present.
func credentialService() string {
	var service string

	args := flagx.FilterArgs(os.Args[1:], []string{"-set-credential"})

	fs := flag.NewFlagSet("credential", flag.ContinueOnError)
	fs.StringVar(&service, "set-credential", "", "store an API credential for SERVICE and exit")
	_ = fs.Parse(args)

	return service
}

// setCredential prompts for the key without echoing it to the terminal.
func setCredential(ctx context.Context, a *app.App, service string) error {
	fmt.Printf("API key for %s: ", service)
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read key error: %w", err)
	}

	return a.StoreCredential(ctx, service, map[string]any{
		"api_key":   string(key),
		"stored_at": time.Now().UTC().Format(time.RFC3339),
	})
}
