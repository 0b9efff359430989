package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/drumgen/internal/audio"
	"github.com/digkill/drumgen/internal/metering"
	"github.com/digkill/drumgen/internal/metrics"
	"github.com/digkill/drumgen/internal/models"
)

const (
	defaultHistoryLimit = 10
	defaultUserLimit    = 50
	maxListLimit        = 100

	// Archival covers the download from the provider and the bucket upload.
	defaultArchiveTimeout = 20 * time.Second
)

type GenerationStore interface {
	Create(ctx context.Context, g *models.DrumGeneration) error
	Complete(ctx context.Context, id, audioURL string) error
	GetByID(ctx context.Context, id string) (*models.DrumGeneration, error)
	ListRecentCompleted(ctx context.Context, limit int) ([]models.DrumGeneration, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.DrumGeneration, error)
}

type AudioProvider interface {
	Generate(ctx context.Context, req audio.Request) audio.Outcome
}

type AudioArchiver interface {
	Archive(ctx context.Context, sourceURL string) (string, error)
}

type Admitter interface {
	Admit(ctx context.Context, userID string) (metering.Decision, error)
}

type GenerateInput struct {
	Prompt string `json:"prompt" validate:"required"`
	BPM    *int   `json:"bpm" validate:"omitempty,min=60,max=220"`
}

type GenerationService struct {
	generations GenerationStore
	provider    AudioProvider
	archiver    AudioArchiver
	admission   Admitter
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time

	archiveTimeout time.Duration
}

// NewGenerationService builds the lifecycle. archiver may be nil.
func NewGenerationService(generations GenerationStore, provider AudioProvider, archiver AudioArchiver, admission Admitter,
	m *metrics.Metrics, log *slog.Logger) *GenerationService {
	return &GenerationService{
		generations: generations,
		provider:    provider,
		archiver:    archiver,
		admission:   admission,
		metrics:     m,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },

		archiveTimeout: defaultArchiveTimeout,
	}
}

// Generate validates, admits the caller when known, and runs the record
// through create and finalize. Anonymous callers are not metered.
func (s *GenerationService) Generate(ctx context.Context, userID *string, in GenerateInput) (*models.DrumGeneration, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if userID != nil {
		if _, err := s.admission.Admit(ctx, *userID); err != nil {
			return nil, err
		}
	}
	rec, err := s.Create(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	return s.Finalize(ctx, rec)
}

// Create persists a record in the generating state.
func (s *GenerationService) Create(ctx context.Context, userID *string, in GenerateInput) (*models.DrumGeneration, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	rec := &models.DrumGeneration{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompt:    in.Prompt,
		BPM:       in.BPM,
		Status:    models.GenerationGenerating,
		CreatedAt: s.now(),
	}
	if err := s.generations.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	return rec, nil
}

// Finalize makes one provider attempt and completes rec with whatever URL
// results. Provider failures never reach the caller; only persistence errors do.
func (s *GenerationService) Finalize(ctx context.Context, rec *models.DrumGeneration) (*models.DrumGeneration, error) {
	// An admitted generation runs to completion even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	outcome := s.provider.Generate(ctx, audio.Request{Prompt: rec.Prompt, BPM: rec.BPM})
	if f, ok := outcome.(audio.Failure); ok {
		s.log.Warn("serving fallback audio", "generation_id", rec.ID, "err", f.Cause)
	}
	audioURL, source := audio.ResolveAudioURL(outcome, rec.Prompt)

	if source == audio.SourceProvider && s.archiver != nil {
		actx, cancel := context.WithTimeout(ctx, s.archiveTimeout)
		archived, err := s.archiver.Archive(actx, audioURL)
		cancel()
		if err != nil {
			s.log.Warn("audio archive failed", "generation_id", rec.ID, "err", err)
		} else {
			audioURL = archived
		}
	}

	if err := s.generations.Complete(ctx, rec.ID, audioURL); err != nil {
		return nil, fmt.Errorf("complete generation: %w", err)
	}
	rec.AudioURL = &audioURL
	rec.Status = models.GenerationCompleted
	s.metrics.Generation(string(source))
	s.log.Info("generation completed", "generation_id", rec.ID, "source", source)
	return rec, nil
}

func (s *GenerationService) Get(ctx context.Context, id string) (*models.DrumGeneration, error) {
	rec, err := s.generations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// History lists recent completed generations across all users.
func (s *GenerationService) History(ctx context.Context, limit int) ([]models.DrumGeneration, error) {
	list, err := s.generations.ListRecentCompleted(ctx, clampLimit(limit, defaultHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return list, nil
}

func (s *GenerationService) ForUser(ctx context.Context, userID string, limit int) ([]models.DrumGeneration, error) {
	list, err := s.generations.ListByUser(ctx, userID, clampLimit(limit, defaultUserLimit))
	if err != nil {
		return nil, fmt.Errorf("list user generations: %w", err)
	}
	return list, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
