//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/mysql"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

const (
	mysqlImage = "mysql:8.4"
	kafkaImage = "confluentinc/confluent-local:7.5.0"

	testDBName = "violations_test"
	testDBUser = "etl"
	testDBPass = "etl-secret"
)

// startMySQL launches a disposable MySQL container and returns connection
// parameters for it. The container is removed when the test finishes.
func startMySQL(ctx context.Context, t *testing.T) mysql.Params {
	t.Helper()

	ctr, err := tcmysql.Run(ctx, mysqlImage,
		tcmysql.WithDatabase(testDBName),
		tcmysql.WithUsername(testDBUser),
		tcmysql.WithPassword(testDBPass),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start mysql container")

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	return mysql.Params{
		Host:     host,
		Port:     port.Int(),
		DBName:   testDBName,
		Username: testDBUser,
		Password: testDBPass,
	}
}

// openStore opens a Store against the container and provisions the schema.
func openStore(ctx context.Context, t *testing.T, params mysql.Params) *mysql.Store {
	t.Helper()

	store, err := mysql.Open(ctx, params, discardLogger())
	require.NoError(t, err, "open store")
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.EnsureSchema(ctx), "ensure schema")
	return store
}

// rawDB opens a plain handle for verification queries outside the Store API.
func rawDB(t *testing.T, params mysql.Params) *sql.DB {
	t.Helper()

	cfg := gomysql.NewConfig()
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	cfg.DBName = params.DBName
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// startKafka launches a single-node Kafka container and returns its broker
// address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("test-cluster"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func countRows(ctx context.Context, t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// citation builds a valid violation dated to the given calendar day.
func citation(id string, day time.Time, fine float64) domain.Violation {
	return domain.Violation{
		ViolationID:       id,
		IssueDate:         day.Add(14*time.Hour + 30*time.Minute),
		ViolationDate:     day,
		IssuingAgencyName: "DDOT",
		AccidentIndicator: "No",
		Location:          "600 BLK NEW YORK AVE NE E/B",
		ViolationCode:     "T119",
		ViolationDesc:     "SPEED 11-15 MPH OVER THE SPEED LIMIT",
		FineAmount:        fine,
		Month:             day.Format("2006-01"),
	}
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(domain.DateLayout, s)
	require.NoError(t, err)
	return d
}
