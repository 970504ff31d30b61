package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/glimpse-app/glimpse/internal/flagx"
	"github.com/glimpse-app/glimpse/internal/timex"
)

// JsonConfig is the intermediate DTO for the optional JSON config file.
// Interval fields use timex.Duration so values can be written either as
// strings like "30s" or as integer nanoseconds.
type JsonConfig struct {
	OwnerID        string `json:"owner_id"`
	StorageBackend string `json:"storage_backend"`
	SQLitePath     string `json:"sqlite_path"`
	DatabaseDSN    string `json:"database_dsn"`

	VaultDir    string `json:"vault_dir"`
	VaultSecret string `json:"vault_secret"`

	GeminiAPIKey    string         `json:"gemini_api_key"`
	GeminiModel     string         `json:"gemini_model"`
	CaptureInterval timex.Duration `json:"capture_interval"`
	GapFactor       int            `json:"gap_factor"`
	ClassifyTimeout timex.Duration `json:"classify_timeout"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	RefsBaseURL        string         `json:"refs_base_url"`
	CacheTTL           timex.Duration `json:"cache_ttl"`
	CacheSweepInterval timex.Duration `json:"cache_sweep_interval"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; if
// neither is set, no JSON file is loaded. Zero values in the file do not
// overwrite earlier sources.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.OwnerID != "" {
		config.OwnerID = c.OwnerID
	}
	if c.StorageBackend != "" {
		config.StorageBackend = Backend(c.StorageBackend)
	}
	if c.SQLitePath != "" {
		config.SQLitePath = c.SQLitePath
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.VaultDir != "" {
		config.VaultDir = c.VaultDir
	}
	if c.VaultSecret != "" {
		config.VaultSecret = c.VaultSecret
	}
	if c.GeminiAPIKey != "" {
		config.GeminiAPIKey = c.GeminiAPIKey
	}
	if c.GeminiModel != "" {
		config.GeminiModel = c.GeminiModel
	}
	if c.CaptureInterval.Duration != 0 {
		config.CaptureInterval = time.Duration(c.CaptureInterval.Duration)
	}
	if c.GapFactor != 0 {
		config.GapFactor = c.GapFactor
	}
	if c.ClassifyTimeout.Duration != 0 {
		config.ClassifyTimeout = time.Duration(c.ClassifyTimeout.Duration)
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if c.RefsBaseURL != "" {
		config.RefsBaseURL = c.RefsBaseURL
	}
	if c.CacheTTL.Duration != 0 {
		config.CacheTTL = time.Duration(c.CacheTTL.Duration)
	}
	if c.CacheSweepInterval.Duration != 0 {
		config.CacheSweepInterval = time.Duration(c.CacheSweepInterval.Duration)
	}
}
