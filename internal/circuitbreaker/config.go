package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Settings are the env-tunable knobs of one breaker
type Settings struct {
	FailureThreshold  uint32
	Window            time.Duration
	Cooldown          time.Duration
	MaxProbes         uint32
	RecoveryThreshold uint32
}

// SettingsFromEnv reads <prefix>_FAILURE_THRESHOLD, <prefix>_WINDOW,
// <prefix>_COOLDOWN, <prefix>_MAX_PROBES and <prefix>_RECOVERY_THRESHOLD,
// keeping defaults for unset or unparsable values.
func SettingsFromEnv(prefix string, defaults Settings) Settings {
	return Settings{
		FailureThreshold:  getEnvUint32(prefix+"_FAILURE_THRESHOLD", defaults.FailureThreshold),
		Window:            getEnvDuration(prefix+"_WINDOW", defaults.Window),
		Cooldown:          getEnvDuration(prefix+"_COOLDOWN", defaults.Cooldown),
		MaxProbes:         getEnvUint32(prefix+"_MAX_PROBES", defaults.MaxProbes),
		RecoveryThreshold: getEnvUint32(prefix+"_RECOVERY_THRESHOLD", defaults.RecoveryThreshold),
	}
}

// DatabaseSettings guards the citation store
func DatabaseSettings() Settings {
	return SettingsFromEnv("CB_DB", Settings{
		FailureThreshold:  5,
		Window:            time.Minute,
		Cooldown:          30 * time.Second,
		MaxProbes:         3,
		RecoveryThreshold: 2,
	})
}

// RedisSettings guards the read cache and the API rate limiter
func RedisSettings() Settings {
	return SettingsFromEnv("CB_REDIS", Settings{
		FailureThreshold:  3,
		Window:            30 * time.Second,
		Cooldown:          15 * time.Second,
		MaxProbes:         5,
		RecoveryThreshold: 2,
	})
}

// ScraperSettings guards one platform behind the scraping proxy. A single
// probe at a time keeps a recovering target from being hammered.
func ScraperSettings() Settings {
	return SettingsFromEnv("CB_SCRAPER", Settings{
		FailureThreshold:  4,
		Window:            5 * time.Minute,
		Cooldown:          time.Minute,
		MaxProbes:         1,
		RecoveryThreshold: 1,
	})
}

// ToConfig converts Settings into a breaker Config using classify, or
// DefaultClassifier when classify is nil.
func (s Settings) ToConfig(classify Classifier) Config {
	return Config{
		FailureThreshold:  s.FailureThreshold,
		Window:            s.Window,
		Cooldown:          s.Cooldown,
		MaxProbes:         s.MaxProbes,
		RecoveryThreshold: s.RecoveryThreshold,
		Classify:          classify,
	}
}

func getEnvUint32(key string, fallback uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
