package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newDryRunDB returns a gorm handle that builds SQL without a server and
// reports the last query statement it built.
func newDryRunDB(t *testing.T) (*gorm.DB, func() string) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=paygate dbname=paygate sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	var last string
	err = db.Callback().Query().After("gorm:query").Register("test:capture_sql", func(tx *gorm.DB) {
		last = tx.Statement.SQL.String()
	})
	require.NoError(t, err)
	return db, func() string { return last }
}

func TestPaymentAdapter_FindStale(t *testing.T) {
	db, lastSQL := newDryRunDB(t)
	adapter := NewPaymentAdapter(db)

	_, err := adapter.FindStale(context.Background(), time.Now().Add(-time.Hour), 50)
	require.NoError(t, err)

	sql := lastSQL()
	assert.Contains(t, sql, `FROM "payments"`)
	assert.Contains(t, sql, "status IN")
	assert.Contains(t, sql, "review_reason IS NULL")
	assert.Contains(t, sql, "LIMIT")
}
