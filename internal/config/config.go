package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// RTDB holds the credentials and endpoint of the cloud realtime database.
// Shared by the tracker (writes) and the mirror (reads).
type RTDB struct {
	APIKey       string
	DatabaseURL  string
	UserEmail    string
	UserPassword string

	// InsecureTLS disables certificate verification, matching devices that
	// ship without a CA bundle. Off unless RTDB_INSECURE_TLS=true.
	InsecureTLS bool
}

type Tracker struct {
	AppEnv   string
	LogLevel slog.Level

	RTDB RTDB

	I2CBus        string
	BME280Address uint16

	GPSPort string
	GPSBaud int

	SendInterval time.Duration
}

type Mirror struct {
	AppEnv   string
	LogLevel slog.Level

	RTDB RTDB

	SQLitePath   string
	PollInterval time.Duration
}

type Dashboard struct {
	AppEnv   string
	LogLevel slog.Level

	HTTPAddr   string
	SQLitePath string
	PageSize   int
}

func LoadTrackerFromEnv() (Tracker, error) {
	appEnv, level, err := loadCommonFromEnv()
	if err != nil {
		return Tracker{}, err
	}

	rtdb, err := loadRTDBFromEnv()
	if err != nil {
		return Tracker{}, err
	}

	i2cBus := strings.TrimSpace(os.Getenv("I2C_BUS"))
	// empty selects the platform default bus, usually /dev/i2c-1

	bme280AddressStr := strings.TrimSpace(os.Getenv("BME280_ADDRESS"))
	if bme280AddressStr == "" {
		bme280AddressStr = "0x76"
	}
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Tracker{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	gpsPort := strings.TrimSpace(os.Getenv("GPS_PORT"))
	if gpsPort == "" {
		gpsPort = "/dev/ttyAMA0"
	}

	gpsBaudStr := strings.TrimSpace(os.Getenv("GPS_BAUD"))
	if gpsBaudStr == "" {
		gpsBaudStr = "9600"
	}
	gpsBaud, err := strconv.Atoi(gpsBaudStr)
	if err != nil {
		return Tracker{}, fmt.Errorf("invalid GPS_BAUD %q: %w", gpsBaudStr, err)
	}
	if gpsBaud <= 0 {
		return Tracker{}, fmt.Errorf("GPS_BAUD must be positive, got %d", gpsBaud)
	}

	sendIntervalStr := strings.TrimSpace(os.Getenv("SEND_INTERVAL"))
	if sendIntervalStr == "" {
		sendIntervalStr = "10s"
	}
	sendInterval, err := time.ParseDuration(sendIntervalStr)
	if err != nil {
		return Tracker{}, fmt.Errorf("invalid SEND_INTERVAL %q: %w", sendIntervalStr, err)
	}
	if sendInterval <= 0 {
		return Tracker{}, fmt.Errorf("SEND_INTERVAL must be positive, got %v", sendInterval)
	}

	return Tracker{
		AppEnv:        appEnv,
		LogLevel:      level,
		RTDB:          rtdb,
		I2CBus:        i2cBus,
		BME280Address: uint16(bme280Address),
		GPSPort:       gpsPort,
		GPSBaud:       gpsBaud,
		SendInterval:  sendInterval,
	}, nil
}

func LoadMirrorFromEnv() (Mirror, error) {
	appEnv, level, err := loadCommonFromEnv()
	if err != nil {
		return Mirror{}, err
	}

	rtdb, err := loadRTDBFromEnv()
	if err != nil {
		return Mirror{}, err
	}

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if sqlitePath == "" {
		sqlitePath = "weather_drone_data.db"
	}

	pollIntervalStr := strings.TrimSpace(os.Getenv("POLL_INTERVAL"))
	if pollIntervalStr == "" {
		pollIntervalStr = "60s"
	}
	pollInterval, err := time.ParseDuration(pollIntervalStr)
	if err != nil {
		return Mirror{}, fmt.Errorf("invalid POLL_INTERVAL %q: %w", pollIntervalStr, err)
	}
	if pollInterval <= 0 {
		return Mirror{}, fmt.Errorf("POLL_INTERVAL must be positive, got %v", pollInterval)
	}

	return Mirror{
		AppEnv:       appEnv,
		LogLevel:     level,
		RTDB:         rtdb,
		SQLitePath:   sqlitePath,
		PollInterval: pollInterval,
	}, nil
}

func LoadDashboardFromEnv() (Dashboard, error) {
	appEnv, level, err := loadCommonFromEnv()
	if err != nil {
		return Dashboard{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if sqlitePath == "" {
		sqlitePath = "weather_drone_data.db"
	}

	pageSizeStr := strings.TrimSpace(os.Getenv("PAGE_SIZE"))
	if pageSizeStr == "" {
		pageSizeStr = "25"
	}
	pageSize, err := strconv.Atoi(pageSizeStr)
	if err != nil {
		return Dashboard{}, fmt.Errorf("invalid PAGE_SIZE %q: %w", pageSizeStr, err)
	}
	if pageSize <= 0 {
		return Dashboard{}, fmt.Errorf("PAGE_SIZE must be positive, got %d", pageSize)
	}

	return Dashboard{
		AppEnv:     appEnv,
		LogLevel:   level,
		HTTPAddr:   httpAddr,
		SQLitePath: sqlitePath,
		PageSize:   pageSize,
	}, nil
}

func loadCommonFromEnv() (string, slog.Level, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return "", 0, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return "", 0, err
	}

	return appEnv, level, nil
}

func loadRTDBFromEnv() (RTDB, error) {
	apiKey := strings.TrimSpace(os.Getenv("RTDB_API_KEY"))
	if apiKey == "" {
		return RTDB{}, fmt.Errorf("RTDB_API_KEY is required")
	}

	databaseURL := strings.TrimSpace(os.Getenv("RTDB_DATABASE_URL"))
	if databaseURL == "" {
		return RTDB{}, fmt.Errorf("RTDB_DATABASE_URL is required")
	}
	databaseURL = strings.TrimRight(databaseURL, "/")
	if !strings.HasPrefix(databaseURL, "https://") {
		return RTDB{}, fmt.Errorf("RTDB_DATABASE_URL %q must use https", databaseURL)
	}

	userEmail := strings.TrimSpace(os.Getenv("RTDB_USER_EMAIL"))
	if userEmail == "" {
		return RTDB{}, fmt.Errorf("RTDB_USER_EMAIL is required")
	}

	userPassword := os.Getenv("RTDB_USER_PASSWORD")
	if userPassword == "" {
		return RTDB{}, fmt.Errorf("RTDB_USER_PASSWORD is required")
	}

	insecureStr := strings.TrimSpace(os.Getenv("RTDB_INSECURE_TLS"))
	if insecureStr == "" {
		insecureStr = "false"
	}
	insecure, err := strconv.ParseBool(insecureStr)
	if err != nil {
		return RTDB{}, fmt.Errorf("invalid RTDB_INSECURE_TLS %q: %w", insecureStr, err)
	}

	return RTDB{
		APIKey:       apiKey,
		DatabaseURL:  databaseURL,
		UserEmail:    userEmail,
		UserPassword: userPassword,
		InsecureTLS:  insecure,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
