package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// SaveAnnotatedTracks stores every annotated position of a run.
func (db *DB) SaveAnnotatedTracks(ctx context.Context, runID string, tracks vessel.AnnotatedTracks) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO annotated_positions (
			run_id, mmsi, ts_unix, lat, lon, distance_from_shore_m,
			neighbor_count, closest_mmsi, closest_distance_m
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, v := range tracks.Vessels() {
		for _, p := range tracks[v] {
			var closest sql.NullInt64
			var dist sql.NullFloat64
			if p.ClosestNeighbor != nil {
				closest = sql.NullInt64{Int64: p.ClosestNeighbor.Vessel.MMSI, Valid: true}
				dist = sql.NullFloat64{Float64: float64(p.ClosestNeighbor.Distance), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				runID, v.MMSI, unixSeconds(p.Timestamp),
				p.Location.Lat, p.Location.Lon, float64(p.DistanceToShore),
				p.NeighborCount, closest, dist,
			); err != nil {
				return 0, fmt.Errorf("failed to store annotated position for %v: %w", v, err)
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// AnnotatedTrack returns one vessel's annotated positions of a run within
// [start, end], ordered by time.
func (db *DB) AnnotatedTrack(ctx context.Context, runID string, v vessel.Metadata, start, end time.Time) ([]vessel.AnnotatedPosition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			ts_unix, lat, lon, distance_from_shore_m,
			neighbor_count, closest_mmsi, closest_distance_m
		FROM
			annotated_positions
		WHERE
			run_id = ? AND mmsi = ? AND ts_unix BETWEEN ? AND ?
		ORDER BY
			ts_unix
	`, runID, v.MMSI, unixSeconds(start), unixSeconds(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query annotated positions: %w", err)
	}
	defer rows.Close()

	var out []vessel.AnnotatedPosition
	for rows.Next() {
		var (
			ts, lat, lon, shore float64
			p                   vessel.AnnotatedPosition
			closest             sql.NullInt64
			dist                sql.NullFloat64
		)
		if err := rows.Scan(&ts, &lat, &lon, &shore, &p.NeighborCount, &closest, &dist); err != nil {
			return nil, err
		}
		p.Timestamp = fromUnixSeconds(ts)
		p.Location = geo.Location{Lat: lat, Lon: lon}
		p.DistanceToShore = units.Length(shore)
		if closest.Valid {
			p.ClosestNeighbor = &vessel.Neighbor{
				Vessel:   vessel.Metadata{MMSI: closest.Int64},
				Distance: units.Length(dist.Float64),
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
