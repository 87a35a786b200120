package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/positions"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// InsertPositions stores raw fixes in one transaction. A fix whose vessel
// and timestamp already exist is ignored, so re-importing a file is a no-op.
// It returns the number of rows actually inserted.
func (db *DB) InsertPositions(ctx context.Context, source string, recs []positions.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO positions (
			mmsi, ts_unix, lat, lon, distance_from_shore_m, source
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range recs {
		res, err := stmt.ExecContext(ctx,
			r.Vessel.MMSI,
			unixSeconds(r.Sample.Timestamp),
			r.Sample.Location.Lat,
			r.Sample.Location.Lon,
			float64(r.Sample.DistanceToShore),
			source,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert position for %v: %w", r.Vessel, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// PositionsInRange returns every stored fix in [start, end], grouped by
// vessel and ordered by time.
func (db *DB) PositionsInRange(ctx context.Context, start, end time.Time) (vessel.Tracks, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			mmsi, ts_unix, lat, lon, distance_from_shore_m
		FROM
			positions
		WHERE
			ts_unix BETWEEN ? AND ?
		ORDER BY
			mmsi, ts_unix
	`, unixSeconds(start), unixSeconds(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	tracks := make(vessel.Tracks)
	for rows.Next() {
		var (
			mmsi          int64
			ts, lat, lon  float64
			distanceShore float64
		)
		if err := rows.Scan(&mmsi, &ts, &lat, &lon, &distanceShore); err != nil {
			return nil, err
		}
		v := vessel.Metadata{MMSI: mmsi}
		tracks[v] = append(tracks[v], vessel.PositionSample{
			Timestamp:       fromUnixSeconds(ts),
			Location:        geo.Location{Lat: lat, Lon: lon},
			DistanceToShore: units.Length(distanceShore),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tracks, nil
}

// PositionRange returns the earliest and latest stored fix times. ok is
// false when the table is empty.
func (db *DB) PositionRange(ctx context.Context) (start, end time.Time, ok bool, err error) {
	var lo, hi sql.NullFloat64
	if err := db.QueryRowContext(ctx, `SELECT MIN(ts_unix), MAX(ts_unix) FROM positions`).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return fromUnixSeconds(lo.Float64), fromUnixSeconds(hi.Float64), true, nil
}

// PositionStats counts stored fixes and distinct vessels.
type PositionStats struct {
	Positions int64 `json:"positions"`
	Vessels   int64 `json:"vessels"`
}

func (db *DB) PositionStats(ctx context.Context) (PositionStats, error) {
	var s PositionStats
	err := db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT mmsi) FROM positions`).Scan(&s.Positions, &s.Vessels)
	return s, err
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		monitoring.Logger().Warn("failed to rollback transaction", "err", err)
	}
}
