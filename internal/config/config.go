package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/speedcal/internal/pass"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string // empty disables MQTT on the track host
	MQTTClientID        string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string
	MQTTClientIDConsole string
	MQTTTopicPrefix     string
	MQTTDeviceName      string

	// Track geometry
	SensorCount int
	SpacingMM   float64
	ScaleFactor float64 // 87.1 for HO, 160 for N

	// Detection timing
	DetectionTimeoutMS int
	MinRetriggerUS     int
	ArmSettleMS        int
	PollIntervalUS     int

	// Sensor hardware
	SensorSource string // "mcp23017" or "mock"
	I2CBus       string // empty selects the first bus
	MCP23017Addr uint16
	IntPin       string // GPIO wired to the expander INT line

	// Mock sensors
	MockSpeedMMS  float64
	MockDirection string // "A-B" or "B-A"

	// Serial console
	SerialConsolePort string // empty disables the console
	SerialConsoleBaud int

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds

	// Logging
	LogLevel         string
	LogRateMaxPerSec int
}

// Default returns the configuration used when a key is not set.
func Default() *Config {
	return &Config{
		MQTTClientID:        "speedcal-track",
		MQTTClientIDWeb:     "speedcal-web",
		MQTTClientIDDisplay: "speedcal-display",
		MQTTClientIDConsole: "speedcal-console",
		MQTTTopicPrefix:     "trains",
		MQTTDeviceName:      "speedcal",

		SensorCount: 4,
		SpacingMM:   100,
		ScaleFactor: 87.1,

		DetectionTimeoutMS: 60000,
		MinRetriggerUS:     1000,
		ArmSettleMS:        50,
		PollIntervalUS:     500,

		SensorSource: "mcp23017",
		MCP23017Addr: 0x27,
		IntPin:       "GPIO13",

		MockSpeedMMS:  500,
		MockDirection: "A-B",

		SerialConsoleBaud: 115200,

		WebServerPort: 8080,

		DisplayUpdateInterval: 250,

		LogLevel:         "info",
		LogRateMaxPerSec: 10,
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines over the defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTTTopicPrefix = strings.Trim(value, "/")
	case "MQTT_DEVICE_NAME":
		c.MQTTDeviceName = value

	// Track geometry
	case "SENSOR_COUNT":
		c.SensorCount, err = strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_COUNT %q: %w", value, err)
		}
		if c.SensorCount < 1 || c.SensorCount > pass.MaxSensors {
			return fmt.Errorf("SENSOR_COUNT must be 1-%d, got %d", pass.MaxSensors, c.SensorCount)
		}
	case "SENSOR_SPACING_MM":
		c.SpacingMM, err = strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_SPACING_MM %q: %w", value, err)
		}
	case "SCALE_FACTOR":
		c.ScaleFactor, err = strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SCALE_FACTOR %q: %w", value, err)
		}

	// Detection timing
	// The detector compares these on wrapping 32-bit counters.
	case "DETECTION_TIMEOUT_MS":
		return setIntInRange(&c.DetectionTimeoutMS, key, value, 1, math.MaxInt32)
	case "MIN_RETRIGGER_US":
		return setIntInRange(&c.MinRetriggerUS, key, value, 0, math.MaxInt32)
	case "ARM_SETTLE_MS":
		return setIntInRange(&c.ArmSettleMS, key, value, 0, math.MaxInt32)
	case "POLL_INTERVAL_US":
		return setPositiveInt(&c.PollIntervalUS, key, value)

	// Sensor hardware
	case "SENSOR_SOURCE":
		switch value {
		case "mcp23017", "mock":
			c.SensorSource = value
		default:
			return fmt.Errorf("SENSOR_SOURCE must be mcp23017 or mock, got %q", value)
		}
	case "I2C_BUS":
		c.I2CBus = value
	case "MCP23017_ADDR":
		addr, err := strconv.ParseUint(value, 0, 7)
		if err != nil {
			return fmt.Errorf("invalid MCP23017_ADDR %q: %w", value, err)
		}
		c.MCP23017Addr = uint16(addr)
	case "INT_PIN":
		c.IntPin = value

	// Mock sensors
	case "MOCK_SPEED_MM_S":
		c.MockSpeedMMS, err = strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MOCK_SPEED_MM_S %q: %w", value, err)
		}
	case "MOCK_DIRECTION":
		if value != pass.AtoB.String() && value != pass.BtoA.String() {
			return fmt.Errorf("MOCK_DIRECTION must be A-B or B-A, got %q", value)
		}
		c.MockDirection = value

	// Serial console
	case "SERIAL_CONSOLE_PORT":
		c.SerialConsolePort = value
	case "SERIAL_CONSOLE_BAUD":
		return setPositiveInt(&c.SerialConsoleBaud, key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		return setPositiveInt(&c.DisplayUpdateInterval, key, value)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_RATE_MAX_PER_SEC":
		return setNonNegativeInt(&c.LogRateMaxPerSec, key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setPositiveInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, v)
	}
	*dst = v
	return nil
}

func setNonNegativeInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return fmt.Errorf("%s must not be negative, got %d", key, v)
	}
	*dst = v
	return nil
}

func setIntInRange(dst *int, key, value string, lo, hi int64) error {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	*dst = int(v)
	return nil
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	if c.MQTTTopicPrefix == "" {
		return fmt.Errorf("MQTT_TOPIC_PREFIX is required")
	}
	if c.MQTTDeviceName == "" {
		return fmt.Errorf("MQTT_DEVICE_NAME is required")
	}
	if c.SensorSource == "mock" && c.MockSpeedMMS <= 0 {
		return fmt.Errorf("MOCK_SPEED_MM_S must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Geometry returns the track description.
func (c *Config) Geometry() pass.Geometry {
	return pass.Geometry{
		SensorCount: c.SensorCount,
		SpacingMM:   c.SpacingMM,
		ScaleFactor: c.ScaleFactor,
	}
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
