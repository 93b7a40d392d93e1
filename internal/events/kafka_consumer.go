package events

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/domain"
	"github.com/inkbook/service-booking/internal/platform/kafka"
)

// DepositCompletionHandler applies a payment completion notice.
type DepositCompletionHandler interface {
	HandleDepositCompleted(ctx context.Context, evt bookingDomain.DepositCompletedEvent) (*application.WebhookResult, error)
}

// PaymentEventConsumer listens to payment events and marks deposits paid.
type PaymentEventConsumer struct {
	consumer *kafka.Consumer
	handler  DepositCompletionHandler
	logger   *zap.Logger
}

// NewPaymentEventConsumer creates a new PaymentEventConsumer.
func NewPaymentEventConsumer(
	brokers []string,
	groupID string,
	handler DepositCompletionHandler,
	logger *zap.Logger,
) *PaymentEventConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, bookingDomain.TopicPaymentEvents, logger)
	return &PaymentEventConsumer{
		consumer: consumer,
		handler:  handler,
		logger:   logger,
	}
}

// Start begins consuming payment events. This blocks until the context is cancelled.
func (c *PaymentEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *PaymentEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *PaymentEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from payment topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case bookingDomain.PaymentDepositCompleted:
		return c.handleDepositCompleted(ctx, cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled payment event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

func (c *PaymentEventConsumer) handleDepositCompleted(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt bookingDomain.DepositCompletedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse DepositCompletedEvent data",
			zap.Error(err),
		)
		return nil // Don't retry malformed data
	}
	if evt.EventID == "" {
		evt.EventID = cloudEvent.ID
	}

	c.logger.Info("processing deposit completed event",
		zap.String("session_id", evt.SessionID),
		zap.String("payment_reference", evt.PaymentReference),
	)

	result, err := c.handler.HandleDepositCompleted(ctx, evt)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindValidation, domain.KindInvalidTransition, domain.KindNotFound:
			c.logger.Warn("payment notice rejected",
				zap.String("session_id", evt.SessionID),
				zap.Error(err),
			)
			return nil
		}
		c.logger.Error("failed to apply deposit payment",
			zap.String("session_id", evt.SessionID),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("deposit payment processed",
		zap.String("session_id", evt.SessionID),
		zap.String("outcome", result.Outcome),
	)
	return nil
}
