package db

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// StoredEncounter is an encounter with its persistence identity.
type StoredEncounter struct {
	vessel.Encounter
	Key          string `json:"encounter_key"`
	RunID        string `json:"run_id"`
	ModelVersion string `json:"model_version"`
}

// EncounterKey returns the stable key of an encounter:
// SHA1(model_version|vessel1|vessel2|start second). End time is omitted so
// the key survives a rerun that extends the encounter.
func EncounterKey(modelVersion string, e vessel.Encounter) string {
	raw := fmt.Sprintf("%s|%d|%d|%d", modelVersion, e.Vessel1.MMSI, e.Vessel2.MMSI, e.StartTime.Unix())
	return fmt.Sprintf("%x", sha1.Sum([]byte(raw)))
}

// ReplaceEncounters makes es the stored result of modelVersion over
// [start, end]. Encounters of the same model version that start in, end in
// or span the range are deleted first, so reruns over overlapping windows
// never duplicate. Returns the number of rows deleted and written.
func (db *DB) ReplaceEncounters(ctx context.Context, runID, modelVersion string, start, end time.Time, es []vessel.Encounter) (deleted, written int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer rollback(tx)

	lo, hi := unixSeconds(start), unixSeconds(end)
	res, err := tx.ExecContext(ctx, `
		DELETE FROM encounters
		WHERE model_version = ?
		  AND (
			  (start_unix BETWEEN ? AND ?)
			  OR (end_unix BETWEEN ? AND ?)
			  OR (start_unix <= ? AND end_unix >= ?)
		  )
	`,
		modelVersion,
		lo, hi, // starts in range
		lo, hi, // ends in range
		lo, hi, // spans the range
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete overlapping encounters: %w", err)
	}
	deleted, _ = res.RowsAffected()
	if deleted > 0 {
		monitoring.Logger().Info("deleted overlapping encounters",
			"model_version", modelVersion, "deleted", deleted, "start", start, "end", end)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO encounters (
			encounter_key, run_id, model_version,
			vessel1_mmsi, vessel2_mmsi, start_unix, end_unix,
			mean_lat, mean_lon, point_count, median_distance_m,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'), UNIXEPOCH('subsec')
		)
		ON CONFLICT(encounter_key) DO UPDATE SET
			run_id = excluded.run_id,
			end_unix = excluded.end_unix,
			mean_lat = excluded.mean_lat,
			mean_lon = excluded.mean_lon,
			point_count = excluded.point_count,
			median_distance_m = excluded.median_distance_m,
			updated_at = UNIXEPOCH('subsec')
	`)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	for _, e := range es {
		_, err := stmt.ExecContext(ctx,
			EncounterKey(modelVersion, e), runID, modelVersion,
			e.Vessel1.MMSI, e.Vessel2.MMSI, unixSeconds(e.StartTime), unixSeconds(e.EndTime),
			e.MeanLocation.Lat, e.MeanLocation.Lon, e.PointCount, float64(e.MedianDistance),
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert encounter %v/%v: %w", e.Vessel1, e.Vessel2, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return deleted, written, nil
}

// EncounterFilter selects stored encounters. Zero fields do not filter.
type EncounterFilter struct {
	Key          string
	RunID        string
	ModelVersion string
	MMSI         int64 // matches either vessel
	Start, End   time.Time
	Limit        int
}

// Encounters returns stored encounters matching f ordered by start time and
// vessel pair.
func (db *DB) Encounters(ctx context.Context, f EncounterFilter) ([]StoredEncounter, error) {
	var (
		where []string
		args  []any
	)
	if f.Key != "" {
		where = append(where, "encounter_key = ?")
		args = append(args, f.Key)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.ModelVersion != "" {
		where = append(where, "model_version = ?")
		args = append(args, f.ModelVersion)
	}
	if f.MMSI != 0 {
		where = append(where, "(vessel1_mmsi = ? OR vessel2_mmsi = ?)")
		args = append(args, f.MMSI, f.MMSI)
	}
	if !f.Start.IsZero() {
		where = append(where, "end_unix >= ?")
		args = append(args, unixSeconds(f.Start))
	}
	if !f.End.IsZero() {
		where = append(where, "start_unix <= ?")
		args = append(args, unixSeconds(f.End))
	}

	q := `
		SELECT
			encounter_key, run_id, model_version,
			vessel1_mmsi, vessel2_mmsi, start_unix, end_unix,
			mean_lat, mean_lon, point_count, median_distance_m
		FROM
			encounters`
	if len(where) > 0 {
		q += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	q += "\n\t\tORDER BY start_unix, vessel1_mmsi, vessel2_mmsi"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query encounters: %w", err)
	}
	defer rows.Close()

	var out []StoredEncounter
	for rows.Next() {
		var (
			se               StoredEncounter
			start, end       float64
			meanLat, meanLon float64
			median           float64
		)
		if err := rows.Scan(
			&se.Key, &se.RunID, &se.ModelVersion,
			&se.Vessel1.MMSI, &se.Vessel2.MMSI, &start, &end,
			&meanLat, &meanLon, &se.PointCount, &median,
		); err != nil {
			return nil, err
		}
		se.StartTime = fromUnixSeconds(start)
		se.EndTime = fromUnixSeconds(end)
		se.MeanLocation = geo.Location{Lat: meanLat, Lon: meanLon}
		se.MedianDistance = units.Length(median)
		out = append(out, se)
	}
	return out, rows.Err()
}

// EncounterCounts returns the number of stored encounters per model
// version.
func (db *DB) EncounterCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT model_version, COUNT(*) FROM encounters GROUP BY model_version`)
	if err != nil {
		return nil, fmt.Errorf("failed to count encounters: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			mv    sql.NullString
			count int64
		)
		if err := rows.Scan(&mv, &count); err != nil {
			return nil, err
		}
		counts[mv.String] = count
	}
	return counts, rows.Err()
}

// DeleteEncounters removes every encounter of a model version.
func (db *DB) DeleteEncounters(ctx context.Context, modelVersion string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM encounters WHERE model_version = ?`, modelVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to delete encounters: %w", err)
	}
	return res.RowsAffected()
}

// Plain strips the persistence identity from stored encounters.
func Plain(ses []StoredEncounter) []vessel.Encounter {
	out := make([]vessel.Encounter, len(ses))
	for i, se := range ses {
		out[i] = se.Encounter
	}
	return out
}
