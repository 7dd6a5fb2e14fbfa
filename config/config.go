package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Config holds the project config values
type Config struct {
	URL          string
	DatabaseName string
	BaseURL      string
	Port         string
	Dispatch     DispatchConfig
}

// DispatchConfig holds the tuning knobs for the dispatch core. All values
// come from the environment so ops can adjust them without a deploy.
type DispatchConfig struct {
	AcceptWindow        time.Duration
	PresenceStaleAfter  time.Duration
	MaxAttempts         int
	SearchRadiusKm      float64
	SearchRadiusCeilKm  float64
	StatsWindow         time.Duration
	EscalationAlertFrom string
	EscalationAlertTo   string
}

// New sets up all config related services
func New() *Config {

	//setup zap logger and replace default logger
	logger, err := setLogger(os.Getenv("LOG_MODE"))
	if err != nil {
		logger = zap.NewExample()
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	return &Config{
		URL:          os.Getenv("DB_URI"),
		DatabaseName: os.Getenv("DB_NAME"),
		BaseURL:      os.Getenv("BASE_URL"),
		Port:         os.Getenv("PORT"),
		Dispatch: DispatchConfig{
			AcceptWindow:        envSeconds("ACCEPT_WINDOW_SECONDS", 30*time.Second),
			PresenceStaleAfter:  envSeconds("PRESENCE_STALE_SECONDS", 90*time.Second),
			MaxAttempts:         envInt("DISPATCH_MAX_ATTEMPTS", 5),
			SearchRadiusKm:      envFloat("SEARCH_RADIUS_KM", 5),
			SearchRadiusCeilKm:  envFloat("SEARCH_RADIUS_CEILING_KM", 40),
			StatsWindow:         envMinutes("STATS_WINDOW_MINUTES", 24*time.Hour),
			EscalationAlertFrom: os.Getenv("ESCALATION_ALERT_FROM"),
			EscalationAlertTo:   os.Getenv("ESCALATION_ALERT_TO"),
		},
	}
}

func setLogger(mode string) (*zap.Logger, error) {
	switch mode {
	case "development":
		return zap.NewDevelopment()
	case "production":
		return zap.NewProduction()
	default:
		return zap.NewExample(), nil
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
		zap.S().Warnf("invalid value for %s, using default of %v", key, def)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
		zap.S().Warnf("invalid value for %s, using default of %v", key, def)
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
		zap.S().Warnf("invalid value for %s, using default of %v", key, def)
	}
	return def
}

func envMinutes(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * time.Minute
		}
		zap.S().Warnf("invalid value for %s, using default of %v", key, def)
	}
	return def
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.WriteHeader(httpStatusCode)
	w.Write([]byte(fmt.Sprintf(`{"response": {"message": %q, "error": %q}}`, message, fmt.Sprint(err))))
}
