package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// SetupConsumer consumes new messages of every partition of topic and hands
// each payload to handler until ctx is cancelled.
func SetupConsumer(ctx context.Context, topic string, handler func([]byte)) error {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(Brokers(), config)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	done, err := Consume(ctx, consumer, topic, handler)
	if err != nil {
		_ = consumer.Close()
		return err
	}
	go func() {
		<-done
		_ = consumer.Close()
	}()
	return nil
}

// Consume starts one partition consumer per partition of topic, beginning at
// the newest offset. Keyed messages are spread over partitions by the
// producer's hash partitioner, so every partition has to be read. handler is
// never called concurrently. The returned channel is closed once ctx is done
// and every partition consumer has stopped.
func Consume(ctx context.Context, consumer sarama.Consumer, topic string, handler func([]byte)) (<-chan struct{}, error) {
	partitions, err := consumer.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("list partitions of %s: %w", topic, err)
	}

	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			for _, started := range pcs {
				_ = started.Close()
			}
			return nil, fmt.Errorf("consume %s/%d: %w", topic, p, err)
		}
		pcs = append(pcs, pc)
	}

	var mu sync.Mutex
	serial := func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		handler(b)
	}

	var wg sync.WaitGroup
	for _, pc := range pcs {
		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			defer pc.Close()
			Drain(ctx, topic, pc.Messages(), pc.Errors(), serial)
		}(pc)
	}

	logrus.WithFields(logrus.Fields{
		"topic":      topic,
		"partitions": len(pcs),
	}).Info("Started consuming from topic")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done, nil
}

// Drain dispatches messages to handler until ctx is done or messages is
// closed.
func Drain(ctx context.Context, topic string, messages <-chan *sarama.ConsumerMessage, errs <-chan *sarama.ConsumerError, handler func([]byte)) {
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("topic", topic).Info("Stopped consuming")
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			logrus.WithFields(logrus.Fields{
				"topic":  topic,
				"offset": msg.Offset,
			}).Debug("Received message")
			handler(msg.Value)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logrus.WithError(err).WithField("topic", topic).Error("Error consuming")
		}
	}
}
