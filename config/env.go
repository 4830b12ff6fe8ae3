package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads an optional .env file (missing file is not an error,
// matching godotenv.Load's typical non-fatal usage elsewhere in the pack)
// and overlays ARTORIZE_* environment variables onto Default(), matching
// config_loader.py's load_config_from_env.
func LoadFromEnv(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		_ = godotenv.Load() // best-effort, ignores a missing default .env
	}

	c := Default()

	c.BaseDir = envString("ARTORIZE_BASE_DIR", c.BaseDir)
	c.OutputDir = envString("ARTORIZE_OUTPUT_DIR", c.OutputDir)
	c.WorkerCount = envInt("ARTORIZE_WORKER_CONCURRENCY", c.WorkerCount)
	c.RequestTimeout = envDuration("ARTORIZE_REQUEST_TIMEOUT", c.RequestTimeout)
	c.CallbackTimeoutMS = envInt("ARTORIZE_CALLBACK_TIMEOUT_MS", c.CallbackTimeoutMS)
	c.CallbackRetryAttempts = envInt("ARTORIZE_CALLBACK_RETRY_ATTEMPTS", c.CallbackRetryAttempts)
	c.CallbackRetryDelayMS = envInt("ARTORIZE_CALLBACK_RETRY_DELAY_MS", c.CallbackRetryDelayMS)

	if v := envString("ARTORIZE_STORAGE_BACKEND", string(c.Storage)); v != "" {
		c.Storage = StorageBackend(v)
	}
	c.StorageBackendURL = envString("ARTORIZE_STORAGE_BACKEND_URL", c.StorageBackendURL)
	c.CDNBaseURL = envString("ARTORIZE_CDN_BASE_URL", c.CDNBaseURL)
	c.S3.Bucket = envString("ARTORIZE_S3_BUCKET", c.S3.Bucket)
	c.S3.Region = envString("ARTORIZE_S3_REGION", c.S3.Region)

	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
