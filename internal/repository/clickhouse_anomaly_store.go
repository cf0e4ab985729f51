package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	pkgch "MergeWatch/pkg/clickhouse"
	applogger "MergeWatch/pkg/logger"
)

const anomalyColumns = `id, alert_id, enumeration_item_id, parent_id, start_time, end_time,
        avg_current_val, avg_baseline_val, upper_bound, lower_bound, score,
        properties, severity, labels, is_child, notified, create_time`

// AnomalySchema creates the anomaly table. Rows are versioned: an update is an
// insert with a higher version, and reads use FINAL to see the latest one.
func AnomalySchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        id Int64,
        alert_id Int64,
        enumeration_item_id Int64,
        parent_id Int64,
        start_time Int64,
        end_time Int64,
        avg_current_val Float64,
        avg_baseline_val Float64,
        upper_bound Float64,
        lower_bound Float64,
        score Float64,
        properties String,
        severity Int8,
        labels String,
        is_child UInt8,
        notified UInt8,
        create_time DateTime64(3),
        retired UInt8,
        version UInt64
    ) ENGINE = ReplacingMergeTree(version)
    ORDER BY (alert_id, enumeration_item_id, id)`, table),
	}
}

// CHAnomalyStore implements AnomalyStore backed by ClickHouse.
type CHAnomalyStore struct {
	db    *sql.DB
	table string
	ids   domrepo.IDSequence
	l     *applogger.Logger
	now   func() time.Time
}

func NewCHAnomalyStore(ch *pkgch.Client, table string, ids domrepo.IDSequence) *CHAnomalyStore {
	return newCHAnomalyStore(ch.DB(), table, ids)
}

func newCHAnomalyStore(db *sql.DB, table string, ids domrepo.IDSequence) *CHAnomalyStore {
	return &CHAnomalyStore{db: db, table: table, ids: ids, l: applogger.Nop(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *CHAnomalyStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// Filter returns anomalies intersecting the window, flattened, with children
// attached to their parents. Children of a matching parent are loaded even when
// they fall outside the window.
func (s *CHAnomalyStore) Filter(ctx context.Context, f domrepo.AnomalyFilter) ([]*models.Anomaly, error) {
	start := time.Now()
	retired := ""
	if !f.IncludeRetired {
		retired = "AND retired = 0"
	}
	q := fmt.Sprintf(`
        SELECT %s
        FROM %s FINAL
        WHERE alert_id = ? AND enumeration_item_id = ? AND start_time <= ? AND end_time >= ? %s
        ORDER BY start_time ASC, id ASC
    `, anomalyColumns, s.table, retired)

	found, err := s.query(ctx, q, f.AlertID, f.EnumerationItemID, f.End, f.Start)
	if err != nil {
		s.l.Error("clickhouse filter_anomalies query error",
			applogger.Int64("alert_id", f.AlertID),
			applogger.Int64("enumeration_item_id", f.EnumerationItemID),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("filter anomalies: %w", err)
	}

	parentIDs := make([]interface{}, 0, len(found))
	for _, a := range found {
		if !a.IsChild {
			parentIDs = append(parentIDs, a.ID)
		}
	}
	if len(parentIDs) > 0 {
		q := fmt.Sprintf(`
        SELECT %s
        FROM %s FINAL
        WHERE alert_id = ? AND parent_id IN (%s) %s
        ORDER BY start_time ASC, id ASC
    `, anomalyColumns, s.table, placeholders(len(parentIDs)), retired)
		args := append([]interface{}{f.AlertID}, parentIDs...)
		children, err := s.query(ctx, q, args...)
		if err != nil {
			s.l.Error("clickhouse filter_anomalies children query error",
				applogger.Int64("alert_id", f.AlertID),
				applogger.Int("parents", len(parentIDs)),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("load children: %w", err)
		}
		found = append(found, children...)
	}

	out := hydrate(found)
	s.l.Debug("clickhouse filter_anomalies ok",
		applogger.Int64("alert_id", f.AlertID),
		applogger.Int64("enumeration_item_id", f.EnumerationItemID),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// hydrate deduplicates rows by id and links children to their parents.
func hydrate(rows []*models.Anomaly) []*models.Anomaly {
	byID := make(map[int64]*models.Anomaly, len(rows))
	out := make([]*models.Anomaly, 0, len(rows))
	for _, a := range rows {
		if _, ok := byID[a.ID]; ok {
			continue
		}
		byID[a.ID] = a
		out = append(out, a)
	}
	for _, a := range out {
		if !a.IsChild || a.ParentID == 0 {
			continue
		}
		if p, ok := byID[a.ParentID]; ok && !p.IsChild {
			p.AddChild(a)
		}
	}
	return out
}

func (s *CHAnomalyStore) query(ctx context.Context, q string, args ...interface{}) ([]*models.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnomaly(rows *sql.Rows) (*models.Anomaly, error) {
	var (
		a                 models.Anomaly
		props, labels     string
		severity          int8
		isChild, notified uint8
	)
	if err := rows.Scan(
		&a.ID, &a.AlertID, &a.EnumerationItemID, &a.ParentID, &a.StartTime, &a.EndTime,
		&a.AvgCurrentVal, &a.AvgBaselineVal, &a.UpperBound, &a.LowerBound, &a.Score,
		&props, &severity, &labels, &isChild, &notified, &a.CreateTime,
	); err != nil {
		return nil, fmt.Errorf("scan anomaly: %w", err)
	}
	if props != "" {
		if err := json.Unmarshal([]byte(props), &a.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of anomaly %d: %w", a.ID, err)
		}
	}
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &a.Labels); err != nil {
			return nil, fmt.Errorf("decode labels of anomaly %d: %w", a.ID, err)
		}
	}
	a.Severity = models.Severity(severity)
	a.IsChild = isChild == 1
	a.Notified = notified == 1
	return &a, nil
}

// Save assigns ids to new anomalies, links children to their parents and
// writes one new version of every row, children included.
func (s *CHAnomalyStore) Save(ctx context.Context, anomalies []*models.Anomaly) error {
	all := models.Flatten(anomalies)
	if len(all) == 0 {
		return nil
	}
	start := time.Now()
	now := s.now()

	for _, a := range all {
		if a.HasID() {
			continue
		}
		id, err := s.ids.NextID(ctx)
		if err != nil {
			return fmt.Errorf("assign anomaly id: %w", err)
		}
		a.ID = id
		if a.CreateTime.IsZero() {
			a.CreateTime = now
		}
	}
	for _, a := range all {
		if a.IsChild {
			continue
		}
		for _, c := range a.Children {
			c.IsChild = true
			c.ParentID = a.ID
			c.AlertID, c.EnumerationItemID = a.AlertID, a.EnumerationItemID
		}
	}

	version := uint64(now.UnixNano())
	const chunkSize = 1000
	for lo := 0; lo < len(all); lo += chunkSize {
		hi := min(lo+chunkSize, len(all))
		if err := s.insert(ctx, all[lo:hi], version); err != nil {
			s.l.Error("clickhouse save_anomalies insert error",
				applogger.Int("rows", hi-lo),
				applogger.Error(err),
			)
			return fmt.Errorf("save anomalies: %w", err)
		}
	}

	s.l.Debug("clickhouse save_anomalies ok",
		applogger.Int("rows", len(all)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (s *CHAnomalyStore) insert(ctx context.Context, batch []*models.Anomaly, version uint64) error {
	values := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*19)
	for _, a := range batch {
		props, err := json.Marshal(a.Properties)
		if err != nil {
			return err
		}
		labels, err := json.Marshal(a.Labels)
		if err != nil {
			return err
		}
		values = append(values, "("+placeholders(19)+")")
		args = append(args,
			a.ID, a.AlertID, a.EnumerationItemID, a.ParentID, a.StartTime, a.EndTime,
			a.AvgCurrentVal, a.AvgBaselineVal, a.UpperBound, a.LowerBound, a.Score,
			string(props), int8(a.Severity), string(labels), boolToUint8(a.IsChild), boolToUint8(a.Notified),
			a.CreateTime, boolToUint8(a.IsRetired()), version,
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s, retired, version) VALUES %s",
		s.table, anomalyColumns, strings.Join(values, ","))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// MaxID returns the highest anomaly id on file, 0 for an empty table.
func (s *CHAnomalyStore) MaxID(ctx context.Context) (int64, error) {
	var id int64
	q := fmt.Sprintf("SELECT max(id) FROM %s", s.table)
	if err := s.db.QueryRowContext(ctx, q).Scan(&id); err != nil {
		return 0, fmt.Errorf("max anomaly id: %w", err)
	}
	return id, nil
}

func (s *CHAnomalyStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
