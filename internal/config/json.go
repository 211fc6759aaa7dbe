package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/mindvault/internal/flagx"
	"github.com/dmitrijs2005/mindvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields tell an absent key from a zero value.
type JsonConfig struct {
	DataDir           *string         `json:"data_dir"`
	Encryption        *string         `json:"encryption"`
	UserID            *string         `json:"user_id"`
	LogLevel          *string         `json:"log_level"`
	LogBackend        *string         `json:"log_backend"`
	OpenTimeout       *timex.Duration `json:"open_timeout"`
	BlockedRetries    *int            `json:"blocked_retries"`
	BlockedRetryDelay *timex.Duration `json:"blocked_retry_delay"`
	DeleteRetryDelay  *timex.Duration `json:"delete_retry_delay"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Without either flag nothing is loaded. It panics on read
// or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.Encryption, jc.Encryption)
	setString(&cfg.UserID, jc.UserID)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogBackend, jc.LogBackend)
	if jc.OpenTimeout != nil {
		cfg.OpenTimeout = jc.OpenTimeout.Duration
	}
	if jc.BlockedRetries != nil {
		cfg.BlockedRetries = *jc.BlockedRetries
	}
	if jc.BlockedRetryDelay != nil {
		cfg.BlockedRetryDelay = jc.BlockedRetryDelay.Duration
	}
	if jc.DeleteRetryDelay != nil {
		cfg.DeleteRetryDelay = jc.DeleteRetryDelay.Duration
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
