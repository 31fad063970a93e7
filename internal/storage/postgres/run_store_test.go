package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	run := catalog.RunSummary{
		ID:              "0190-run",
		Kind:            catalog.RunKindWorks,
		Subject:         "Ludwig van Beethoven",
		SourceURL:       "https://en.wikipedia.org/wiki/List_of_compositions_by_Ludwig_van_Beethoven",
		StartedAt:       started,
		FinishedAt:      started.Add(3 * time.Second),
		RawRecords:      12,
		AcceptedRecords: 10,
		RejectedRecords: 2,
		ContentHash:     "abc123",
		Outputs:         map[string]string{"raw": "out/raw-info-Ludwig_van_Beethoven.json"},
		Status:          catalog.RunStatusSucceeded,
	}

	mock.ExpectExec("INSERT INTO harvest_runs").
		WithArgs(
			run.ID,
			"works",
			run.Subject,
			run.SourceURL,
			run.StartedAt,
			run.FinishedAt,
			12, 10, 2, 0,
			"abc123",
			false,
			[]byte(`{"raw":"out/raw-info-Ludwig_van_Beethoven.json"}`),
			[]byte(`{}`),
			"succeeded",
			(*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	args := make([]any, 16)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(args...).
		WillReturnError(errors.New("connection reset"))

	err = store.RecordRun(context.Background(), catalog.RunSummary{ID: "x", ErrorText: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert run")
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	assert.Error(t, err)

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Error(t, store.RecordRun(context.Background(), catalog.RunSummary{}))

	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	assert.Error(t, err)
}
