package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ReportModeText = "text"
	ReportModeFile = "file"
)

// Config holds application configuration.
type Config struct {
	APIBaseURL string

	Env             string
	Port            string
	CORSAllowOrigin []string
	LogFile         string

	HTTPTimeout time.Duration

	OCRPath  string
	OCRField string

	ReportPath           string
	ReportMode           string
	ReportFilenameHeader string
	ReportFallbackName   string
	ReportDir            string

	ProgressStepInterval time.Duration
	WatchMaxPerMinute    int
	WorkspaceTTL         time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	baseURL := strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000/api/v1"), "/")
	if env == "production" && strings.HasPrefix(baseURL, "http://localhost") {
		log.Printf("API_BASE_URL points at localhost in production")
	}

	return Config{
		APIBaseURL:           baseURL,
		Env:                  env,
		Port:                 getEnv("PORT", "8090"),
		CORSAllowOrigin:      splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5500,http://127.0.0.1:5500")),
		LogFile:              getEnv("LOG_FILE", ""),
		HTTPTimeout:          time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 120)) * time.Second,
		OCRPath:              getEnv("OCR_PATH", "/ocr"),
		OCRField:             getEnv("OCR_FIELD", "file"),
		ReportPath:           getEnv("REPORT_PATH", "/report"),
		ReportMode:           normalizeReportMode(getEnv("REPORT_MODE", ReportModeText)),
		ReportFilenameHeader: getEnv("REPORT_FILENAME_HEADER", "X-LeafCheck-Filename"),
		ReportFallbackName:   getEnv("REPORT_FALLBACK_NAME", "LeafCheck_Report.pdf"),
		ReportDir:            getEnv("REPORT_DIR", "./reports"),
		ProgressStepInterval: getEnvDuration("PROGRESS_STEP_INTERVAL", 500*time.Millisecond),
		WatchMaxPerMinute:    getEnvInt("WATCH_MAX_PER_MINUTE", 6),
		WorkspaceTTL:         getEnvDuration("WORKSPACE_TTL", time.Hour),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		log.Printf("invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		log.Printf("invalid %s=%q, using %s", key, raw, def)
		return def
	}
	return parsed
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeReportMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ReportModeFile:
		return ReportModeFile
	default:
		return ReportModeText
	}
}
