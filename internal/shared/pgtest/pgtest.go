//go:build integration

// Package pgtest sobe um Postgres descartável para os testes de contrato dos stores.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/radieske/sportsbook-ledger/internal/shared/migrations"
)

// Start sobe o container, aplica as migrations e devolve a conexão.
// terminate encerra conexão e container.
func Start(ctx context.Context) (db *sql.DB, terminate func(), err error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "sportsbook"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	terminate = func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/sportsbook?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, nil); err != nil {
		terminate()
		return nil, nil, err
	}
	db, err = sql.Open("postgres", dsn)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	return db, func() {
		_ = db.Close()
		terminate()
	}, nil
}
