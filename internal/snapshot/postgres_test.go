package snapshot

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/capgraph/api/schemas"
)

// flexibleSQLMatcher creates a regex insensitive to whitespace so statement
// formatting is not load-bearing in the expectations.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func setupPGStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher(createSnapshotsTable)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := NewPostgresStoreWithDB(context.Background(), mockPool, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store, mockPool
}

func TestPostgresStore_SchemaFailureFailsOpen(t *testing.T) {
	t.Parallel()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher(createSnapshotsTable)).
		WillReturnError(errors.New("permission denied"))

	_, err = NewPostgresStoreWithDB(context.Background(), mockPool, zaptest.NewLogger(t))
	assert.Error(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_Save(t *testing.T) {
	t.Parallel()
	store, mockPool := setupPGStore(t)
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := sampleSnapshot(3, stamp)

	t.Run("insert succeeds", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO snapshots (version, id, stamp, payload) VALUES ($1, $2, $3, $4);`)).
			WithArgs(int64(3), snap.ID, snap.Timestamp, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Save(context.Background(), snap))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("duplicate version surfaces the constraint error", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO snapshots (version, id, stamp, payload) VALUES ($1, $2, $3, $4);`)).
			WithArgs(int64(3), snap.ID, snap.Timestamp, pgxmock.AnyArg()).
			WillReturnError(errors.New(`duplicate key value violates unique constraint "snapshots_pkey"`))

		err := store.Save(context.Background(), snap)
		assert.Error(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_Lookups(t *testing.T) {
	t.Parallel()
	store, mockPool := setupPGStore(t)
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := sampleSnapshot(5, stamp)
	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	t.Run("Latest decodes the stored payload", func(t *testing.T) {
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT payload FROM snapshots ORDER BY version DESC LIMIT 1;`)).
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

		got, err := store.Latest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, snap.Version, got.Version)
		assert.Equal(t, snap.SourceSeqs, got.SourceSeqs)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("At passes the version bound", func(t *testing.T) {
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT payload FROM snapshots WHERE version <= $1 ORDER BY version DESC LIMIT 1;`)).
			WithArgs(int64(9)).
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

		got, err := store.At(context.Background(), 9)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), got.Version)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("AtTime passes the cutoff", func(t *testing.T) {
		cutoff := stamp.Add(time.Hour)
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT payload FROM snapshots WHERE stamp <= $1 ORDER BY stamp DESC LIMIT 1;`)).
			WithArgs(cutoff).
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

		_, err := store.AtTime(context.Background(), cutoff)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("no rows maps to ErrNoSnapshots", func(t *testing.T) {
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT payload FROM snapshots ORDER BY version DESC LIMIT 1;`)).
			WillReturnError(pgx.ErrNoRows)

		_, err := store.Latest(context.Background())
		assert.ErrorIs(t, err, schemas.ErrNoSnapshots)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
