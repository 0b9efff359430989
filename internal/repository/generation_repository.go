package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/drumgen/internal/models"
)

// ErrGenerationNotFound is returned when an update targets a missing row.
var ErrGenerationNotFound = errors.New("generation not found")

const generationColumns = `id, user_id, prompt, bpm, audio_url, status, created_at`

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func scanGeneration(row rowScanner) (*models.DrumGeneration, error) {
	var (
		g        models.DrumGeneration
		userID   sql.NullString
		bpm      sql.NullInt64
		audioURL sql.NullString
		status   string
	)
	if err := row.Scan(&g.ID, &userID, &g.Prompt, &bpm, &audioURL, &status, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Status = models.GenerationStatus(status)
	if userID.Valid {
		g.UserID = &userID.String
	}
	if bpm.Valid {
		v := int(bpm.Int64)
		g.BPM = &v
	}
	if audioURL.Valid {
		g.AudioURL = &audioURL.String
	}
	return &g, nil
}

func (r *GenerationRepository) Create(ctx context.Context, g *models.DrumGeneration) error {
	const query = `
INSERT INTO drum_generations (id, user_id, prompt, bpm, audio_url, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.UserID, g.Prompt, g.BPM, g.AudioURL, string(g.Status), g.CreatedAt); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// Complete stores the audio URL and moves the row to completed.
func (r *GenerationRepository) Complete(ctx context.Context, id, audioURL string) error {
	const query = `UPDATE drum_generations SET status = ?, audio_url = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, string(models.GenerationCompleted), audioURL, id)
	if err != nil {
		return fmt.Errorf("complete generation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("generation rows affected: %w", err)
	}
	if affected == 0 {
		return ErrGenerationNotFound
	}
	return nil
}

// GetByID returns nil when no row matches.
func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.DrumGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM drum_generations WHERE id = ?`
	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return g, nil
}

// ListRecentCompleted returns completed generations of all users, newest first.
func (r *GenerationRepository) ListRecentCompleted(ctx context.Context, limit int) ([]models.DrumGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM drum_generations WHERE status = ? ORDER BY created_at DESC LIMIT ?`
	return r.list(ctx, "list recent generations", query, string(models.GenerationCompleted), limit)
}

// ListByUser returns the generations of userID, newest first.
func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.DrumGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM drum_generations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	return r.list(ctx, "list user generations", query, userID, limit)
}

func (r *GenerationRepository) list(ctx context.Context, op, query string, args ...any) ([]models.DrumGeneration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	generations := make([]models.DrumGeneration, 0)
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		generations = append(generations, *g)
	}
	return generations, rows.Err()
}
