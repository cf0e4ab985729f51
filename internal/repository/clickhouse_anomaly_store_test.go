package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
)

var columns = []string{
	"id", "alert_id", "enumeration_item_id", "parent_id", "start_time", "end_time",
	"avg_current_val", "avg_baseline_val", "upper_bound", "lower_bound", "score",
	"properties", "severity", "labels", "is_child", "notified", "create_time",
}

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func row(id, parentID, start, end, isChild int64, labels string) []driver.Value {
	return []driver.Value{
		id, int64(1), int64(0), parentID, start, end,
		10.0, 5.0, 12.0, 3.0, 0.9,
		`{"service":"api"}`, int64(-3), labels, isChild, int64(0), created,
	}
}

type counterSequence struct {
	next int64
	err  error
}

func (s *counterSequence) NextID(context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

func newMockStore(t *testing.T, ids domrepo.IDSequence) (*CHAnomalyStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newCHAnomalyStore(db, "anomalies", ids), mock
}

func TestCHAnomalyStore_FilterHydratesChildren(t *testing.T) {
	store, mock := newMockStore(t, nil)

	mock.ExpectQuery(`FROM anomalies FINAL\s+WHERE alert_id = \? AND enumeration_item_id = \? AND start_time <= \? AND end_time >= \? AND retired = 0`).
		WithArgs(int64(1), int64(0), int64(5000), int64(1000)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(row(10, 0, 1000, 3000, 0, "")...).
			AddRow(row(11, 10, 1000, 2000, 1, "[]")...))
	mock.ExpectQuery(`WHERE alert_id = \? AND parent_id IN \(\?\) AND retired = 0`).
		WithArgs(int64(1), int64(10)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(row(11, 10, 1000, 2000, 1, "[]")...).
			AddRow(row(12, 10, 2000, 3000, 1, `[{"name":"LOW_IMPACT","ignore":true}]`)...))

	got, err := store.Filter(context.Background(), domrepo.AnomalyFilter{AlertID: 1, Start: 1000, End: 5000})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, got, 3)
	parent := got[0]
	assert.Equal(t, int64(10), parent.ID)
	assert.False(t, parent.IsChild)
	require.Len(t, parent.Children, 2)
	assert.Same(t, got[1], parent.Children[0])
	assert.Same(t, got[2], parent.Children[1])
	assert.True(t, got[2].IsIgnored())
	assert.Equal(t, models.SeverityHigh, parent.Severity)
	assert.Equal(t, map[string]string{"service": "api"}, parent.Properties)
	assert.Equal(t, created, parent.CreateTime)
}

func TestCHAnomalyStore_FilterIncludeRetired(t *testing.T) {
	store, mock := newMockStore(t, nil)

	mock.ExpectQuery(`end_time >= \?\s+ORDER BY`).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row(3, 0, 1, 2, 1, "")...))

	got, err := store.Filter(context.Background(), domrepo.AnomalyFilter{AlertID: 1, End: 10, IncludeRetired: true})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHAnomalyStore_FilterQueryError(t *testing.T) {
	store, mock := newMockStore(t, nil)
	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection reset"))

	_, err := store.Filter(context.Background(), domrepo.AnomalyFilter{AlertID: 1})
	assert.ErrorContains(t, err, "connection reset")
}

func TestCHAnomalyStore_SaveAssignsIDsAndLinksChildren(t *testing.T) {
	seq := &counterSequence{next: 100}
	store, mock := newMockStore(t, seq)
	store.now = func() time.Time { return created }

	persistedChild := &models.Anomaly{ID: 5, AlertID: 1, ParentID: 2, IsChild: true, StartTime: 2000, EndTime: 3000}
	snapshot := &models.Anomaly{AlertID: 1, IsChild: true, StartTime: 1000, EndTime: 2000}
	parent := &models.Anomaly{AlertID: 1, StartTime: 1000, EndTime: 3000, Children: []*models.Anomaly{snapshot, persistedChild}}
	retired := &models.Anomaly{ID: 2, AlertID: 1, IsChild: true, StartTime: 2000, EndTime: 3000}

	mock.ExpectExec(`(?s)INSERT INTO anomalies \(id, alert_id, .* retired, version\) VALUES \(.+\),\(.+\),\(.+\),\(.+\)`).
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, store.Save(context.Background(), []*models.Anomaly{retired, parent}))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(101), parent.ID)
	assert.Equal(t, int64(102), snapshot.ID)
	assert.Equal(t, parent.ID, snapshot.ParentID)
	assert.Equal(t, parent.ID, persistedChild.ParentID)
	assert.True(t, retired.IsRetired())
	assert.Equal(t, created, parent.CreateTime)
}

func TestCHAnomalyStore_SaveStopsOnSequenceError(t *testing.T) {
	store, mock := newMockStore(t, &counterSequence{err: errors.New("redis down")})

	err := store.Save(context.Background(), []*models.Anomaly{{AlertID: 1}})
	assert.ErrorContains(t, err, "redis down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHAnomalyStore_SaveEmpty(t *testing.T) {
	store, mock := newMockStore(t, nil)
	assert.NoError(t, store.Save(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHAnomalyStore_MaxID(t *testing.T) {
	store, mock := newMockStore(t, nil)
	mock.ExpectQuery(`SELECT max\(id\) FROM anomalies`).
		WillReturnRows(sqlmock.NewRows([]string{"max(id)"}).AddRow(int64(42)))

	id, err := store.MaxID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestHydrate_DeduplicatesByID(t *testing.T) {
	p := &models.Anomaly{ID: 1}
	c := &models.Anomaly{ID: 2, ParentID: 1, IsChild: true}
	dup := &models.Anomaly{ID: 2, ParentID: 1, IsChild: true}
	orphan := &models.Anomaly{ID: 3, ParentID: 99, IsChild: true}

	got := hydrate([]*models.Anomaly{p, c, dup, orphan})

	assert.Equal(t, []*models.Anomaly{p, c, orphan}, got)
	assert.Equal(t, []*models.Anomaly{c}, p.Children)
}
