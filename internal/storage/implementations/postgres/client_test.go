package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/studentprep/internal/table"
)

func TestNewPostgresSink(t *testing.T) {
	logger := logrus.New()
	config := &PostgresConfig{DSN: "postgres://localhost/students?sslmode=disable"}

	sink, err := NewPostgresSink(config, logger)
	require.NoError(t, err)
	assert.Equal(t, config, sink.config)
	assert.Equal(t, logger, sink.logger)
	assert.Nil(t, sink.db)
}

func TestNewPostgresSinkInvalidConfig(t *testing.T) {
	_, err := NewPostgresSink(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewPostgresSink(&PostgresConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection string is required")
}

func TestCreateTableSQL(t *testing.T) {
	tbl := createTestTable(t)

	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "students_clean" ("gender" TEXT, "math_score" DOUBLE PRECISION, "pass_math" INTEGER)`,
		CreateTableSQL("", "students_clean", tbl))
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "analytics"."students" ("gender" TEXT, "math_score" DOUBLE PRECISION, "pass_math" INTEGER)`,
		CreateTableSQL("analytics", "students", tbl))
}

func TestCopyValue(t *testing.T) {
	tbl := createTestTable(t)
	gender, _ := tbl.Column("gender")
	math, _ := tbl.Column("math_score")
	pass, _ := tbl.Column("pass_math")

	assert.Equal(t, "Female", CopyValue(gender, 0))
	assert.Nil(t, CopyValue(gender, 1))
	assert.Equal(t, 67.0, CopyValue(math, 0))
	assert.Equal(t, 41.5, CopyValue(math, 1))
	assert.Equal(t, int64(1), CopyValue(pass, 0))
	assert.Equal(t, int64(0), CopyValue(pass, 1))
}

func TestPostgresSinkClosed(t *testing.T) {
	sink, err := NewPostgresSink(&PostgresConfig{DSN: "postgres://localhost/students"}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	_, err = sink.WriteTable(context.Background(), "students_clean", createTestTable(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestPostgresSinkIntegration(t *testing.T) {
	dsn := os.Getenv("STUDENTPREP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Integration test - requires STUDENTPREP_TEST_POSTGRES_DSN")
	}

	sink, err := NewPostgresSink(&PostgresConfig{DSN: dsn, Replace: true}, logrus.New())
	require.NoError(t, err)
	defer sink.Close()

	rows, err := sink.WriteTable(context.Background(), "studentprep_test", createTestTable(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)
}

// Helper functions

func createTestTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New(2)
	require.NoError(t, tbl.AddColumn(table.NewColumn("gender", table.Categorical,
		[]table.Value{table.Str("Female"), table.Missing()})))
	require.NoError(t, tbl.AddColumn(table.NewColumn("math_score", table.Float,
		[]table.Value{table.Num(67), table.Num(41.5)})))
	require.NoError(t, tbl.AddColumn(table.NewColumn("pass_math", table.Int,
		[]table.Value{table.Bool(true), table.Bool(false)})))
	return tbl
}
