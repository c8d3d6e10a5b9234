package transport

import (
	"context"
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"io"
	"time"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaWriter publishes one message per unit, keyed by span so that every
// unit of a span lands on the same partition.
type KafkaWriter struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaWriter(config KafkaConfig, logger *zap.Logger) *KafkaWriter {
	logger.Info(
		"Creating new KafkaWriter",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic),
	)
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

func (w *KafkaWriter) WriteUnit(ctx context.Context, key string, unit *senddata.SendData) error {
	if err := w.writer.WriteMessages(ctx, unitMessage(key, unit)); err != nil {
		return fmt.Errorf("failed to publish unit: %w", err)
	}
	return nil
}

func (w *KafkaWriter) Close() error {
	return w.writer.Close()
}

func unitMessage(key string, unit *senddata.SendData) kafka.Message {
	return kafka.Message{Key: []byte(key), Value: unit.Bytes()}
}

type KafkaSource struct {
	reader *kafka.Reader
	logger *zap.Logger
}

func NewKafkaSource(config KafkaConfig, logger *zap.Logger) *KafkaSource {
	logger.Info(
		"Creating new KafkaSource",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic),
		zap.String("group_id", config.GroupID),
	)
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     config.Brokers,
			Topic:       config.Topic,
			GroupID:     config.GroupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
			ErrorLogger: kafka.LoggerFunc(logger.Sugar().Errorf),
		}),
		logger: logger,
	}
}

func (s *KafkaSource) Run(ctx context.Context, out chan<- []byte) error {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Error("Failed to read message", zap.Error(err))
			continue
		}
		select {
		case out <- msg.Value:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
