// Package testutil starts throwaway Postgres and S3 containers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/cloo-solutions/taxbot/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "pgvector/pgvector:0.8.1-pg18"
	postgresCreds = "taxbot"

	rustfsImage = "rustfs/rustfs:latest"
	rustfsCreds = "rustfsadmin"
)

// startContainer runs req and resolves the host address of port.
func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string, string) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("%s port %s: %v", req.Image, port, err)
	}
	return container, host, mapped.Port()
}

// PostgresContainer is a pgvector-enabled Postgres.
type PostgresContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	t.Helper()
	container, host, port := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresCreds,
			"POSTGRES_PASSWORD": postgresCreds,
			"POSTGRES_DB":       postgresCreds,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	}, "5432")

	return &PostgresContainer{Container: container, Host: host, Port: port}
}

func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%[1]s:%[1]s@%[2]s:%[3]s/%[1]s?sslmode=disable", postgresCreds, pc.Host, pc.Port)
}

func (pc *PostgresContainer) Terminate(context.Context) error {
	return testcontainers.TerminateContainer(pc.Container)
}

// RustFSContainer is an S3-compatible object store holding knowledge documents.
type RustFSContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
	AccessKey string
	SecretKey string
}

func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	t.Helper()
	container, host, port := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": rustfsCreds,
			"RUSTFS_SECRET_KEY": rustfsCreds,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}, "9000")

	return &RustFSContainer{
		Container: container,
		Host:      host,
		Port:      port,
		AccessKey: rustfsCreds,
		SecretKey: rustfsCreds,
	}
}

func (rc *RustFSContainer) Endpoint() string {
	return "http://" + rc.Host + ":" + rc.Port
}

func (rc *RustFSContainer) Terminate(context.Context) error {
	return testcontainers.TerminateContainer(rc.Container)
}

// NewTestPool connects to pc, retrying while Postgres finishes starting, and
// applies the embedded migrations. The pool is closed on test cleanup.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer) *pgxpool.Pool {
	t.Helper()

	var (
		pool *pgxpool.Pool
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		if pool, err = pgxpool.New(ctx, pc.ConnectionString()); err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := RunMigrations(ctx, pool); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return pool
}

// RunMigrations applies every embedded up migration in version order. It
// bypasses golang-migrate so tests can reuse one pool without a version table.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		sql, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// TruncateAll empties the corpus cache between subtests.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "TRUNCATE TABLE corpus_chunks"); err != nil {
		return fmt.Errorf("truncate corpus_chunks: %w", err)
	}
	return nil
}
