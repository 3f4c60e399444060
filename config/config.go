package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"docexport/internal/queue"
)

type Config struct {
	Port      int    `env:"PORT" envDefault:"3000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Export-task queue configuration
	QueueEnabled       bool     `env:"QUEUE_ENABLED" envDefault:"true"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	QueueTopic         string   `env:"QUEUE_TOPIC" envDefault:"export.tasks"`
	QueueProducerGroup string   `env:"QUEUE_PRODUCER_GROUP" envDefault:"doc-export-producers"`
	QueueConsumerGroup string   `env:"QUEUE_CONSUMER_GROUP" envDefault:"doc-export-workers"`
	QueueTag           string   `env:"QUEUE_TAG" envDefault:"EXPORT_TASK"`
	QueueNamespace     string   `env:"QUEUE_NAMESPACE"`

	QueueDialTimeout    time.Duration `env:"QUEUE_DIAL_TIMEOUT" envDefault:"3s"`
	QueueSendTimeout    time.Duration `env:"QUEUE_SEND_TIMEOUT" envDefault:"10s"`
	QueueSendRetries    int           `env:"QUEUE_SEND_RETRIES" envDefault:"3"`
	QueueMaxMessageSize int           `env:"QUEUE_MAX_MESSAGE_SIZE" envDefault:"4194304"`
	QueuePollInterval   time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	QueueStopTimeout    time.Duration `env:"QUEUE_STOP_TIMEOUT" envDefault:"5s"`
	QueueMemoryCapacity int           `env:"QUEUE_MEMORY_CAPACITY" envDefault:"10000"`
	QueueMaxHealthyLag  int64         `env:"QUEUE_MAX_HEALTHY_LAG" envDefault:"1000"`
}

func New() (Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}

	return c, nil
}

// Queue projects the flat env config into the queue subsystem config.
func (c Config) Queue() queue.Config {
	return queue.Config{
		Enabled:        c.QueueEnabled,
		Brokers:        c.KafkaBrokers,
		Topic:          c.QueueTopic,
		ProducerGroup:  c.QueueProducerGroup,
		ConsumerGroup:  c.QueueConsumerGroup,
		Tag:            c.QueueTag,
		Namespace:      c.QueueNamespace,
		DialTimeout:    c.QueueDialTimeout,
		SendTimeout:    c.QueueSendTimeout,
		SendRetries:    c.QueueSendRetries,
		MaxMessageSize: c.QueueMaxMessageSize,
		PollInterval:   c.QueuePollInterval,
		StopTimeout:    c.QueueStopTimeout,
		MemoryCapacity: c.QueueMemoryCapacity,
		MaxHealthyLag:  c.QueueMaxHealthyLag,
	}
}
