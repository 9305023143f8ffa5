package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the relay reads from the environment. The MQTT
// ingest and the Kafka firehose are optional; each stays disabled while
// its broker setting is empty.
type Config struct {
	Port          string
	StatsInterval time.Duration

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTTopic     string
	MQTTQoS       byte
	MQTTUsername  string
	MQTTPassword  string

	KafkaBrokers []string
	KafkaTopic   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:          getenv("PORT", "8080"),
		MQTTBrokerURL: os.Getenv("MQTT_BROKER_URL"),
		MQTTClientID:  getenv("MQTT_CLIENT_ID", "telemetry-relay"),
		MQTTTopic:     getenv("MQTT_TOPIC", "vehicles/+/telemetry"),
		MQTTUsername:  os.Getenv("MQTT_USERNAME"),
		MQTTPassword:  os.Getenv("MQTT_PASSWORD"),
		KafkaTopic:    getenv("KAFKA_TOPIC", "vehicle-events"),
	}

	interval := getenv("STATS_INTERVAL", "10s")
	d, err := time.ParseDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_INTERVAL %q: %w", interval, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("STATS_INTERVAL must be positive, got %q", interval)
	}
	cfg.StatsInterval = d

	qos := getenv("MQTT_QOS", "1")
	q, err := strconv.Atoi(qos)
	if err != nil || q < 0 || q > 2 {
		return nil, fmt.Errorf("invalid MQTT_QOS %q", qos)
	}
	cfg.MQTTQoS = byte(q)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS set but contains no broker address")
		}
	}

	if cfg.MQTTBrokerURL != "" && cfg.MQTTTopic == "" {
		return nil, fmt.Errorf("MQTT_TOPIC must not be empty when MQTT_BROKER_URL is set")
	}

	return cfg, nil
}

// MQTTEnabled reports whether the ingest bridge should start.
func (c *Config) MQTTEnabled() bool { return c.MQTTBrokerURL != "" }

// KafkaEnabled reports whether the firehose sink should start.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
