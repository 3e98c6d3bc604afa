//go:build integration

package main_test

import (
	"context"
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

	"github.com/replyloop/service-codepool/internal/application"
	codepoolEvents "github.com/replyloop/service-codepool/internal/events"
	"github.com/replyloop/service-codepool/internal/repository"
	"github.com/replyloop/service-codepool/pkg/database"
	"github.com/replyloop/service-codepool/pkg/kafka"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB      *gorm.DB
	Cleanup func()
}

// codepoolStack holds wired-up code pool components.
type codepoolStack struct {
	Repo     *repository.GormPoolRepository
	Pools    *application.PoolService
	Assigner *application.AssignmentService
}

// setupPostgres starts a PostgreSQL container, applies migrations/ and
// returns a connected GORM DB.
func setupPostgres(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_codepool",
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

	cfg := database.PostgresConfig{
		Host:         pgHost,
		Port:         pgPort.Port(),
		User:         "test",
		Password:     "test",
		DBName:       "test_codepool",
		SSLMode:      "disable",
		MaxOpenConns: 40,
	}
	logger := zap.NewNop()

	// Poll until the server accepts connections.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		db, err = database.Connect(cfg, logger)
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(cfg.DatabaseURL(), "migrations", logger))

	return &testInfra{
		DB: db,
		Cleanup: func() {
			if err := pgContainer.Terminate(ctx); err != nil {
				t.Logf("failed to terminate PostgreSQL container: %v", err)
			}
		},
	}
}

// setupKafka starts a Kafka container and pre-creates topics.
func setupKafka(t *testing.T, topics ...string) ([]string, func()) {
	t.Helper()
	ctx := context.Background()

	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	createTopics(t, brokers, topics...)

	return brokers, func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
	}
}

// setupCodepoolStack wires repository and services against db.
func setupCodepoolStack(t *testing.T, db *gorm.DB) *codepoolStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	repo := repository.NewGormPoolRepository(db)
	return &codepoolStack{
		Repo:     repo,
		Pools:    application.NewPoolService(repo, 50, logger),
		Assigner: application.NewAssignmentService(repo, repository.NewMemoryStateStore(), time.Hour, logger),
	}
}

// poolCounts reads the three counters that must agree for a pool.
func poolCounts(t *testing.T, db *gorm.DB, poolID uuid.UUID) (counter, flagged, records int64) {
	t.Helper()
	var p repository.PoolModel
	require.NoError(t, db.Where("id = ?", poolID).Take(&p).Error)
	require.NoError(t, db.Model(&repository.CodeModel{}).Where("pool_id = ? AND is_assigned = true", poolID).Count(&flagged).Error)
	require.NoError(t, db.Model(&repository.AssignmentModel{}).Where("pool_id = ?", poolID).Count(&records).Error)
	return int64(p.AssignedCodes), flagged, records
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

// newCommentConsumer wires the comment consumer with a producer for replies
// and dead letters.
func newCommentConsumer(t *testing.T, brokers []string, assigner *application.AssignmentService) (*codepoolEvents.CommentEventConsumer, func()) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)

	handler := codepoolEvents.NewCommentEventHandler(assigner, producer, logger)
	groupID := fmt.Sprintf("test-codepool-%s", uuid.New().String()[:8])
	consumer := codepoolEvents.NewCommentEventConsumer(brokers, groupID, handler, producer, kafka.DefaultRetryPolicy(), logger)

	return consumer, func() {
		_ = consumer.Close()
		_ = producer.Close()
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
