package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"dilemma-cloud/internal/domain"
	"github.com/google/uuid"
)

const (
	defaultCategory  = "general"
	defaultExpiresIn = 48 * time.Hour
)

// DilemmaService creates dilemmas and reports their public vote split.
type DilemmaService struct {
	dilemmas DilemmaRepository
	newID    func() string
	opts     options
}

func NewDilemmaService(dilemmas DilemmaRepository, opts ...Option) *DilemmaService {
	return &DilemmaService{
		dilemmas: dilemmas,
		newID:    uuid.NewString,
		opts:     buildOptions("dilemmas", opts),
	}
}

// Create validates and stores a new open dilemma. Three or more options make
// it a multi dilemma; no options make it binary.
func (s *DilemmaService) Create(ctx context.Context, in domain.NewDilemma) (domain.Dilemma, error) {
	title := sanitizeTitle(in.Title)
	if title == "" {
		return domain.Dilemma{}, domain.Invalidf("title required")
	}
	options, err := normalizeOptions(in.Options)
	if err != nil {
		return domain.Dilemma{}, err
	}

	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		category = defaultCategory
	}
	expiresIn := in.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	now := s.opts.now()
	d := domain.Dilemma{
		ID:        s.newID(),
		Title:     title,
		Kind:      domain.KindBinary,
		Category:  category,
		StartedAt: now,
		ExpiresAt: now.Add(expiresIn),
		CreatedAt: now,
	}
	if len(options) > 0 {
		d.Kind = domain.KindMulti
		d.Options = options
		d.OptionCounts = make(map[string]int64, len(options)+1)
		for _, o := range options {
			d.OptionCounts[o.ID] = 0
		}
		d.OptionCounts[domain.OtherOptionID] = 0
	}

	if err := s.dilemmas.CreateDilemma(ctx, d); err != nil {
		return domain.Dilemma{}, err
	}
	s.opts.logger.Info("dilemma_created",
		slog.String("dilemma_id", d.ID),
		slog.String("kind", string(d.Kind)),
		slog.String("category", d.Category),
	)
	return d, nil
}

// Stats returns the current vote split of a dilemma.
func (s *DilemmaService) Stats(ctx context.Context, id string) (domain.Stats, error) {
	d, err := s.dilemmas.GetDilemma(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Stats{}, err
	}

	if !d.IsMulti() {
		total := float64(max(1, d.XCount+d.YCount))
		return domain.Stats{
			X:    d.XCount,
			Y:    d.YCount,
			PctX: float64(d.XCount) / total,
			PctY: float64(d.YCount) / total,
		}, nil
	}

	var sum int64
	for _, c := range d.OptionCounts {
		sum += c
	}
	total := float64(max(1, sum))
	stats := domain.Stats{Options: make([]domain.OptionStat, 0, len(d.Options)+1)}
	for _, o := range d.Options {
		c := d.OptionCounts[o.ID]
		stats.Options = append(stats.Options, domain.OptionStat{ID: o.ID, Label: o.Label, Count: c, Pct: float64(c) / total})
	}
	if c := d.OptionCounts[domain.OtherOptionID]; c > 0 {
		stats.Options = append(stats.Options, domain.OptionStat{ID: domain.OtherOptionID, Label: "other", Count: c, Pct: float64(c) / total})
	}
	return stats, nil
}

func normalizeOptions(in []domain.Option) ([]domain.Option, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) < domain.MinMultiOptions {
		return nil, domain.Invalidf("multi dilemmas need at least %d options", domain.MinMultiOptions)
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Option, 0, len(in))
	for _, o := range in {
		id := strings.TrimSpace(o.ID)
		if id == "" {
			return nil, domain.Invalidf("option id required")
		}
		if id == domain.OtherOptionID {
			return nil, domain.Invalidf("option id %q is reserved", id)
		}
		if _, dup := seen[id]; dup {
			return nil, domain.Invalidf("duplicate option id %q", id)
		}
		seen[id] = struct{}{}
		label := sanitizeLabel(o.Label)
		if label == "" {
			label = id
		}
		out = append(out, domain.Option{ID: id, Label: label})
	}
	return out, nil
}
