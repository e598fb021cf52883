package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ChunkFM/db"
	"ChunkFM/model"
)

// TrackRepository defines the interface for catalog data operations.
type TrackRepository interface {
	CreateTrack(track *model.Track) (int64, error)
	GetTrackByID(id int64) (*model.Track, error)
	GetTrackByExternalRef(ref string) (*model.Track, error)
	// GetActiveTracks returns active tracks in random order, excluding
	// excludeID when > 0 and restricting to format when non-empty.
	GetActiveTracks(format string, excludeID int64) ([]*model.Track, error)
	SetTrackActive(id int64, active bool) error
	DeleteTrack(id int64) error
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, title, external_ref, format, chunk_count, active, created_at, updated_at`

func scanTrack(row interface{ Scan(...interface{}) error }) (*model.Track, error) {
	track := &model.Track{}
	err := row.Scan(&track.ID, &track.Title, &track.ExternalRef, &track.Format,
		&track.ChunkCount, &track.Active, &track.CreatedAt, &track.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return track, nil
}

// CreateTrack adds a new track to the catalog. A unique-key violation on
// external_ref is reported as model.ErrDuplicateRef.
func (r *mysqlTrackRepository) CreateTrack(track *model.Track) (int64, error) {
	query := `INSERT INTO audio_files (title, external_ref, format, chunk_count, active, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateTrack: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(track.Title, track.ExternalRef, track.Format, track.ChunkCount, track.Active, now, now)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate entry") {
			return 0, fmt.Errorf("external ref %s: %w", track.ExternalRef, model.ErrDuplicateRef)
		}
		return 0, fmt.Errorf("failed to execute CreateTrack: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateTrack: %w", err)
	}
	return id, nil
}

// GetTrackByID retrieves a track by its ID. Returns (nil, nil) when absent.
func (r *mysqlTrackRepository) GetTrackByID(id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM audio_files WHERE id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetTrackByExternalRef retrieves a track by its external reference id.
// Returns (nil, nil) when absent.
func (r *mysqlTrackRepository) GetTrackByExternalRef(ref string) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM audio_files WHERE external_ref = ?`
	track, err := scanTrack(r.DB.QueryRow(query, ref))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan track by external ref %s: %w", ref, err)
	}
	return track, nil
}

// GetActiveTracks retrieves all active tracks in random order. The random
// ordering is done by the database so every selection sees a fresh shuffle.
func (r *mysqlTrackRepository) GetActiveTracks(format string, excludeID int64) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM audio_files WHERE active = true`
	args := make([]interface{}, 0, 2)
	if format != "" {
		query += ` AND format = ?`
		args = append(args, format)
	}
	if excludeID > 0 {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY RAND()`

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in GetActiveTracks: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetActiveTracks: %w", err)
	}

	return tracks, nil
}

// SetTrackActive updates the active flag for a given track ID.
func (r *mysqlTrackRepository) SetTrackActive(id int64, active bool) error {
	query := `UPDATE audio_files SET active = ?, updated_at = ? WHERE id = ?`
	res, err := r.DB.Exec(query, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to execute SetTrackActive for track ID %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for SetTrackActive: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("track %d: %w", id, model.ErrTrackNotFound)
	}
	return nil
}

// DeleteTrack removes a track row from the catalog.
func (r *mysqlTrackRepository) DeleteTrack(id int64) error {
	res, err := r.DB.Exec(`DELETE FROM audio_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to execute DeleteTrack for track ID %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for DeleteTrack: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("track %d: %w", id, model.ErrTrackNotFound)
	}
	return nil
}
