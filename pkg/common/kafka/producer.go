package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/common/config"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

const EventRunCompleted = "export.run.completed"

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(topic string) *Producer {
	cfg := config.Load()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{writer: writer}
}

func (p *Producer) PublishRunCompleted(ctx context.Context, jobID, runID, status string, totalRecords int) error {
	event := models.RunEvent{
		ID:           uuid.New().String(),
		Type:         EventRunCompleted,
		JobID:        jobID,
		RunID:        runID,
		Status:       status,
		TotalRecords: totalRecords,
		Timestamp:    time.Now(),
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.RunID),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "job-id", Value: []byte(event.JobID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"run_id": event.RunID,
			"job_id": event.JobID,
		}).Error("Failed to publish run event")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id": event.RunID,
		"status": status,
		"topic":  p.writer.Topic,
	}).Info("Run event published")

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
