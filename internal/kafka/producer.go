// Package kafka provides functionality for interacting with Apache Kafka.
// It carries order lifecycle events and asynchronous product-import batches.
package kafka

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Brokers returns the configured broker list, defaulting to localhost.
func Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(viper.GetString("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	return brokers
}

// SetupProducer creates a synchronous producer that waits for broker
// acknowledgement. Import batches can be large, so messages up to 5MB are
// allowed.
func SetupProducer() (sarama.SyncProducer, error) {
	brokers := Brokers()

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.MaxMessageBytes = 5 * 1024 * 1024

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logrus.WithField("brokers", brokers).Info("Kafka producer initialized")
	return producer, nil
}

// PublishJSON encodes v and sends it to topic. A nil producer means Kafka is
// disabled and the message is dropped.
func PublishJSON(producer sarama.SyncProducer, topic, key string, v interface{}) error {
	if producer == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s message: %w", topic, err)
	}
	logrus.WithFields(logrus.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("Message published")
	return nil
}
