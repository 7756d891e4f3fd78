package database

import (
	"database/sql"

	"github.com/TobiSchelling/collisionclean/internal/geocode"
)

// GetGeocode returns the cached answer for a geocoding query. found is
// false when the query was never cached; a nil result with found set means
// the service had no usable match.
func (db *DB) GetGeocode(query string) (*geocode.Result, bool, error) {
	row := db.conn.QueryRow(
		`SELECT matched, latitude, longitude, accuracy_score, accuracy_type, zip, county
		FROM geocode_cache WHERE query = ?`, query,
	)

	var matched bool
	var lat, lng, score sql.NullFloat64
	var accType, zip, county sql.NullString
	if err := row.Scan(&matched, &lat, &lng, &score, &accType, &zip, &county); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !matched {
		return nil, true, nil
	}
	return &geocode.Result{
		Latitude:      lat.Float64,
		Longitude:     lng.Float64,
		AccuracyScore: score.Float64,
		AccuracyType:  accType.String,
		Zip:           zip.String,
		County:        county.String,
	}, true, nil
}

// PutGeocode caches the answer for query, replacing any earlier one.
func (db *DB) PutGeocode(query string, r *geocode.Result) error {
	if r == nil {
		_, err := db.conn.Exec(
			`INSERT OR REPLACE INTO geocode_cache (query, matched) VALUES (?, 0)`, query,
		)
		return err
	}
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO geocode_cache
		(query, matched, latitude, longitude, accuracy_score, accuracy_type, zip, county)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?)`,
		query, r.Latitude, r.Longitude, r.AccuracyScore, r.AccuracyType, r.Zip, r.County,
	)
	return err
}
