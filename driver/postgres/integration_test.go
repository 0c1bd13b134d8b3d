//go:build integration

// Integration test grounded on testcontainers-go usage in the retrieved
// pack (e.g. itchan-dev/itchan's pg integration_pg_test.go): spins up a real
// PostgreSQL container and drives the driver's Connection end to end. Run
// with `go test -tags=integration ./driver/postgres/...`.
package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	godbcpostgres "github.com/sirlordt/godbc/driver/postgres"
)

func TestConnectionAgainstRealPostgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("godbc_test"),
		postgres.WithUsername("godbc"),
		postgres.WithPassword("godbc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, container.Terminate(ctx)) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("cpp_dbc:postgresql://%s:%s/godbc_test", host, port.Port())
	driver := godbcpostgres.Driver{}
	conn, err := driver.Connect(ctx, url, "godbc", "godbc", map[string]string{"sslmode": "disable"})
	require.NoError(t, err)
	defer conn.Close(ctx)

	_, err = conn.ExecuteUpdate(ctx, `
		CREATE TABLE IF NOT EXISTS widgets (
			id SERIAL PRIMARY KEY,
			label TEXT NOT NULL
		)`)
	require.NoError(t, err)

	label := uuid.New().String()
	stmt, err := conn.PrepareStatement(ctx, `INSERT INTO widgets (label) VALUES (?) RETURNING id`)
	require.NoError(t, err)
	require.NoError(t, stmt.SetString(1, label))
	rs, err := stmt.ExecuteQuery(ctx)
	require.NoError(t, err)
	ok, err := rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	id, err := rs.GetInt(1)
	require.NoError(t, err)
	require.NoError(t, rs.Close(ctx))

	rs, err = conn.ExecuteQuery(ctx, `SELECT id, label FROM widgets WHERE id = ?`)
	require.Error(t, err, "unprepared ExecuteQuery must still route through placeholder rewriting")

	stmt, err = conn.PrepareStatement(ctx, `SELECT id, label FROM widgets WHERE id = ?`)
	require.NoError(t, err)
	require.NoError(t, stmt.SetInt32(1, id))
	rs, err = stmt.ExecuteQuery(ctx)
	require.NoError(t, err)
	defer rs.Close(ctx)

	ok, err = rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	gotLabel, err := rs.GetStringByName("label")
	require.NoError(t, err)
	require.Equal(t, label, gotLabel)
}
