// Package notify turns lifecycle notifications into commands for the
// platform's notification service.
package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/kafka"
)

// CommandSendEmail is the notification command type.
const CommandSendEmail = "notification.email.send"

const eventSource = "service-booking"

// Attachment is a file sent with the email.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content_base64"`
}

// EmailCommand is the payload consumed by the notification service.
type EmailCommand struct {
	Template      string                 `json:"template"`
	BookingID     uuid.UUID              `json:"booking_id"`
	BookingNumber string                 `json:"booking_number"`
	StudioID      uuid.UUID              `json:"studio_id"`
	To            string                 `json:"to"`
	RecipientName string                 `json:"recipient_name"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Attachments   []Attachment           `json:"attachments,omitempty"`
}

// KafkaDispatcher implements application.NotificationDispatcher by
// publishing email commands to Kafka.
type KafkaDispatcher struct {
	publisher application.EventPublisher
	organizer string
	now       func() time.Time
	logger    *zap.Logger
}

// NewKafkaDispatcher creates a dispatcher. organizer is the studio address
// calendar invites are sent from; it may be empty.
func NewKafkaDispatcher(publisher application.EventPublisher, organizer string, logger *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		publisher: publisher,
		organizer: organizer,
		now:       time.Now,
		logger:    logger,
	}
}

// Dispatch publishes msg as an email command.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg application.Notification) error {
	if msg.Recipient.Email == "" {
		return fmt.Errorf("notification %s for booking %s has no recipient", msg.Template, msg.BookingNumber)
	}

	cmd := EmailCommand{
		Template:      msg.Template,
		BookingID:     msg.BookingID,
		BookingNumber: msg.BookingNumber,
		StudioID:      msg.StudioID,
		To:            msg.Recipient.Email,
		RecipientName: msg.Recipient.Name,
		Data:          msg.Data,
	}
	if msg.Appointment != nil {
		cmd.Attachments = append(cmd.Attachments, d.invite(msg))
	}

	cloudEvent, err := kafka.NewCloudEvent(eventSource, CommandSendEmail, cmd)
	if err != nil {
		return err
	}
	cloudEvent.Subject = msg.BookingID.String()

	if err := d.publisher.PublishEvent(ctx, bookingDomain.TopicNotificationCommand, cloudEvent); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	d.logger.Debug("notification dispatched",
		zap.String("booking_id", msg.BookingID.String()),
		zap.String("template", msg.Template),
	)
	return nil
}

func (d *KafkaDispatcher) invite(msg application.Notification) Attachment {
	appt := msg.Appointment
	ics := RenderICS(CalendarEvent{
		UID:       EventUID(msg.BookingID),
		Start:     appt.Start,
		Duration:  time.Duration(appt.DurationHours * float64(time.Hour)),
		Summary:   appt.Title,
		Organizer: d.organizer,
		Attendee:  msg.Recipient.Email,
		Sequence:  appt.Sequence,
		Stamp:     d.now(),
	})
	return Attachment{
		Filename:    "appointment.ics",
		ContentType: "text/calendar; method=REQUEST; charset=UTF-8",
		Content:     base64.StdEncoding.EncodeToString(ics),
	}
}
