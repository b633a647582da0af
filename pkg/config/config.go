package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the configuration for a parkwatch process
type Config struct {
	// MQTT configuration
	MQTTBroker   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	// Redis configuration
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres configuration
	PostgresHost               string
	PostgresPort               int
	PostgresUser               string
	PostgresPassword           string
	PostgresDB                 string
	PostgresSSLMode            string
	PostgresMaxConnections     int
	PostgresMaxIdleConnections int
	PostgresConnMaxLifetime    time.Duration

	// Kafka feed configuration (optional)
	KafkaEnabled        bool
	KafkaBrokers        []string
	KafkaOccupancyTopic string
	KafkaAlertTopic     string

	// Service configuration
	ServiceName string
	HealthPort  int
	APIPort     int
	LogLevel    string

	// Storage backend: "postgres" or "memory"
	StoreBackend string

	// Ingestion configuration
	IngestTopic       string
	DeliveryMarkerTTL time.Duration
	MaxEventHistory   int
	SweepIntervalSec  int
	ThresholdsFile    string
	TenantsFile       string
	FleetFile         string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker: "localhost",
		MQTTPort:   1883,
		RedisHost:  "localhost",
		RedisPort:  6379,
		RedisDB:    0,

		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "parkwatch",
		PostgresDB:                 "parkwatch",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     20,
		PostgresMaxIdleConnections: 5,
		PostgresConnMaxLifetime:    30 * time.Minute,

		KafkaEnabled:        false,
		KafkaBrokers:        []string{"localhost:9092"},
		KafkaOccupancyTopic: "parkwatch.occupancy",
		KafkaAlertTopic:     "parkwatch.alerts",

		ServiceName: "parkwatch-agent",
		HealthPort:  8080,
		APIPort:     3002,
		LogLevel:    "info",

		StoreBackend: "postgres",

		IngestTopic:       "parkwatch/raw/+/+",
		DeliveryMarkerTTL: 10 * time.Minute,
		MaxEventHistory:   5000,
		SweepIntervalSec:  60,
	}
}

// LoadFromEnv loads configuration from environment variables with PARKWATCH_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	if v := os.Getenv("PARKWATCH_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("PARKWATCH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("PARKWATCH_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("PARKWATCH_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("PARKWATCH_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Redis configuration
	if v := os.Getenv("PARKWATCH_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("PARKWATCH_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("PARKWATCH_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("PARKWATCH_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// Postgres configuration
	if v := os.Getenv("PARKWATCH_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("PARKWATCH_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("PARKWATCH_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("PARKWATCH_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("PARKWATCH_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("PARKWATCH_POSTGRES_SSLMODE"); v != "" {
		c.PostgresSSLMode = v
	}
	if v := os.Getenv("PARKWATCH_POSTGRES_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PostgresMaxConnections = n
		}
	}

	// Kafka configuration
	if v := os.Getenv("PARKWATCH_KAFKA_ENABLED"); v != "" {
		if enable, err := strconv.ParseBool(v); err == nil {
			c.KafkaEnabled = enable
		}
	}
	if v := os.Getenv("PARKWATCH_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PARKWATCH_KAFKA_OCCUPANCY_TOPIC"); v != "" {
		c.KafkaOccupancyTopic = v
	}
	if v := os.Getenv("PARKWATCH_KAFKA_ALERT_TOPIC"); v != "" {
		c.KafkaAlertTopic = v
	}

	// Service configuration
	if v := os.Getenv("PARKWATCH_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("PARKWATCH_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HealthPort = port
		}
	}
	if v := os.Getenv("PARKWATCH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.APIPort = port
		}
	}
	if v := os.Getenv("PARKWATCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PARKWATCH_STORE_BACKEND"); v != "" {
		c.StoreBackend = v
	}

	// Ingestion configuration
	if v := os.Getenv("PARKWATCH_INGEST_TOPIC"); v != "" {
		c.IngestTopic = v
	}
	if v := os.Getenv("PARKWATCH_DELIVERY_MARKER_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.DeliveryMarkerTTL = ttl
		}
	}
	if v := os.Getenv("PARKWATCH_MAX_EVENT_HISTORY"); v != "" {
		if max, err := strconv.Atoi(v); err == nil {
			c.MaxEventHistory = max
		}
	}
	if v := os.Getenv("PARKWATCH_SWEEP_INTERVAL_SEC"); v != "" {
		if interval, err := strconv.Atoi(v); err == nil {
			c.SweepIntervalSec = interval
		}
	}
	if v := os.Getenv("PARKWATCH_THRESHOLDS_FILE"); v != "" {
		c.ThresholdsFile = v
	}
	if v := os.Getenv("PARKWATCH_TENANTS_FILE"); v != "" {
		c.TenantsFile = v
	}
	if v := os.Getenv("PARKWATCH_FLEET_FILE"); v != "" {
		c.FleetFile = v
	}
}

// RegisterFlags binds config fields to the given flag set
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	// MQTT flags
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	fs.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	fs.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	fs.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	fs.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	fs.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	fs.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	fs.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	fs.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres user")
	fs.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	fs.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	fs.StringVar(&c.PostgresSSLMode, "postgres-sslmode", c.PostgresSSLMode, "Postgres sslmode")

	// Kafka flags
	fs.BoolVar(&c.KafkaEnabled, "kafka-enabled", c.KafkaEnabled, "Publish occupancy records and alerts to Kafka")
	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "Kafka broker addresses")
	fs.StringVar(&c.KafkaOccupancyTopic, "kafka-occupancy-topic", c.KafkaOccupancyTopic, "Kafka topic for ARRIVE/LEAVE records")
	fs.StringVar(&c.KafkaAlertTopic, "kafka-alert-topic", c.KafkaAlertTopic, "Kafka topic for alert records")

	// Service flags
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	fs.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	fs.IntVar(&c.APIPort, "api-port", c.APIPort, "HTTP API port")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.StoreBackend, "store", c.StoreBackend, "Storage backend (postgres, memory)")

	// Ingestion flags
	fs.StringVar(&c.IngestTopic, "ingest-topic", c.IngestTopic, "MQTT topic filter for raw sensor readings")
	fs.DurationVar(&c.DeliveryMarkerTTL, "delivery-marker-ttl", c.DeliveryMarkerTTL, "How long live delivery markers are kept in Redis")
	fs.IntVar(&c.MaxEventHistory, "max-event-history", c.MaxEventHistory, "Maximum events read per sensor when scoring")
	fs.IntVar(&c.SweepIntervalSec, "sweep-interval", c.SweepIntervalSec, "Alert sweep interval in seconds")
	fs.StringVar(&c.ThresholdsFile, "thresholds-file", c.ThresholdsFile, "YAML file overriding system default thresholds")
	fs.StringVar(&c.TenantsFile, "tenants-file", c.TenantsFile, "YAML file describing tenant scopes")
	fs.StringVar(&c.FleetFile, "fleet-file", c.FleetFile, "YAML file of zones, bays and sensor bindings provisioned at startup")
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	c.RegisterFlags(pflag.CommandLine)
	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}
	if c.SweepIntervalSec <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.MaxEventHistory <= 0 {
		return fmt.Errorf("max event history must be positive")
	}

	switch c.StoreBackend {
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" {
			return fmt.Errorf("Postgres host and database are required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store backend: %s (must be postgres or memory)", c.StoreBackend)
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required when Kafka is enabled")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns the lib/pq connection string
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}
