package config

import (
	"flag"
	"os"
	"time"

	"github.com/glimpse-app/glimpse/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-o string   owner id all records are scoped to
//	-m string   storage backend: "sqlite" or "postgres"
//	-f string   sqlite database file path
//	-d string   postgres DSN
//	-v string   vault directory
//	-k string   Gemini API key (prefer GEMINI_API_KEY env)
//	-i int      capture interval, seconds
//	-g int      gap factor (continuation threshold multiplier)
//	-b string   S3 bucket for capture image archive
//	-e string   S3 base endpoint
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-o", "-m", "-f", "-d", "-v", "-k", "-i", "-g", "-b", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.OwnerID, "o", config.OwnerID, "owner id")
	backend := fs.String("m", string(config.StorageBackend), "storage backend (sqlite|postgres)")
	fs.StringVar(&config.SQLitePath, "f", config.SQLitePath, "sqlite database file")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "postgres DSN")
	fs.StringVar(&config.VaultDir, "v", config.VaultDir, "vault directory")
	fs.StringVar(&config.GeminiAPIKey, "k", config.GeminiAPIKey, "Gemini API key")

	captureInterval := fs.Int("i", int(config.CaptureInterval.Seconds()), "capture interval (in seconds)")
	fs.IntVar(&config.GapFactor, "g", config.GapFactor, "gap factor")

	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.StorageBackend = Backend(*backend)
	config.CaptureInterval = time.Duration(*captureInterval) * time.Second
}
