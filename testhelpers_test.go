//go:build integration

package main_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkbook/service-booking/internal/application"
	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	bookingEvents "github.com/inkbook/service-booking/internal/events"
	"github.com/inkbook/service-booking/internal/notify"
	"github.com/inkbook/service-booking/internal/platform/database"
	"github.com/inkbook/service-booking/internal/platform/kafka"
	"github.com/inkbook/service-booking/internal/repository"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// lifecycleStack holds wired-up booking lifecycle components.
type lifecycleStack struct {
	Service         *application.LifecycleService
	Consumer        *bookingEvents.PaymentEventConsumer
	CleanupProducer func()
}

// offlineGateway fails every processor call; the integration flows under
// test never reach the processor.
type offlineGateway struct{}

var errOffline = errors.New("payment processor offline")

func (offlineGateway) CreateDepositSession(context.Context, application.DepositSessionRequest) (*application.GatewaySession, error) {
	return nil, errOffline
}

func (offlineGateway) ExpireSession(context.Context, string) error { return errOffline }

func (offlineGateway) Refund(context.Context, application.RefundRequest) (*application.RefundReceipt, error) {
	return nil, errOffline
}

// setupContainers starts PostgreSQL and Kafka testcontainers, applies the
// SQL migrations and returns a connected GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_booking",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pgConfig := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Int(),
		User:     "test",
		Password: "test",
		DBName:   "test_booking",
		SSLMode:  "disable",
	}

	// Poll until the pool can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(pgConfig, logger)
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(pgConfig.DatabaseURL(), "migrations", logger))

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers,
		bookingDomain.TopicBookingEvents,
		bookingDomain.TopicPaymentEvents,
		bookingDomain.TopicNotificationCommand,
	)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupLifecycleStack wires up the lifecycle service against real storage
// and Kafka.
func setupLifecycleStack(t *testing.T, db *gorm.DB, brokers []string) *lifecycleStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	producer := kafka.NewProducer(brokers, logger)
	svc := application.NewLifecycleService(
		repository.NewGormBookingRepository(db),
		repository.NewGormSideEffectRepository(db),
		application.Collaborators{
			Payments:    offlineGateway{},
			Notifier:    notify.NewKafkaDispatcher(producer, "service-booking", logger),
			Publisher:   producer,
			Broadcaster: bookingEvents.NewHub(logger),
		},
		application.LifecycleOptions{Currency: "USD"},
		logger,
	)

	groupID := fmt.Sprintf("test-booking-%s", uuid.New().String()[:8])
	consumer := bookingEvents.NewPaymentEventConsumer(brokers, groupID, svc, logger)

	return &lifecycleStack{
		Service:         svc,
		Consumer:        consumer,
		CleanupProducer: func() { _ = producer.Close() },
	}
}

// seedDepositRequested inserts a booking request awaiting its deposit on
// sessionID.
func seedDepositRequested(t *testing.T, db *gorm.DB, bookingID, studioID uuid.UUID, sessionID string) {
	t.Helper()
	now := time.Now().UTC()
	requested := now.Add(-time.Hour)
	expires := now.Add(6 * 24 * time.Hour)
	price := int64(40000)
	deposit := int64(10000)
	hours := 3.0

	client, _ := json.Marshal(map[string]interface{}{
		"name": "Integration Client", "email": "client@example.com",
	})
	design, _ := json.Marshal(map[string]interface{}{
		"description": "botanical sleeve panel", "placement": "upper arm",
	})

	model := repository.BookingRequestModel{
		ID:                      bookingID,
		BookingNumber:           fmt.Sprintf("BR-INT%s", uuid.New().String()[:6]),
		StudioID:                studioID,
		Client:                  client,
		Design:                  design,
		Status:                  string(bookingDomain.StatusDepositRequested),
		Currency:                "USD",
		QuotedPriceCents:        &price,
		DepositAmountCents:      &deposit,
		EstimatedHours:          &hours,
		DepositRequestedAt:      &requested,
		DepositRequestExpiresAt: &expires,
		DepositSessionID:        sessionID,
		PaymentToken:            "tok_" + uuid.New().String()[:8],
		PaymentURL:              "https://pay.example.com/" + sessionID,
		Version:                 4,
		CreatedAt:               now.Add(-48 * time.Hour),
		UpdatedAt:               requested,
	}
	require.NoError(t, db.Create(&model).Error, "failed to seed booking request")
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// waitForBookingStatus polls the booking_requests table until the status matches.
func waitForBookingStatus(t *testing.T, db *gorm.DB, bookingID uuid.UUID, expectedStatus string, timeout time.Duration) repository.BookingRequestModel {
	t.Helper()
	var result repository.BookingRequestModel
	require.Eventually(t, func() bool {
		var model repository.BookingRequestModel
		err := db.Where("id = ?", bookingID).First(&model).Error
		if err != nil {
			return false
		}
		if model.Status == expectedStatus {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "booking request did not transition to %s", expectedStatus)
	return result
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
