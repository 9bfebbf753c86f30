package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/sokomart/api/internal/platform/firestore"
	"github.com/sokomart/api/internal/repositories"
)

// Order numbers come from per-sequence documents in the "counters"
// collection. Each document holds the last value handed out plus the
// step and optional cap, and every allocation runs inside a Firestore
// transaction so concurrent checkouts never see the same number twice.
const countersCollection = "counters"

type sequenceDoc struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// advance moves the sequence forward by step, falling back to the
// stored step and then to 1. It reports exhaustion when a cap is set
// and the next value would cross it.
func (d *sequenceDoc) advance(id string, step int64, now time.Time) (int64, error) {
	if step <= 0 {
		step = d.Step
	}
	if step <= 0 {
		step = 1
	}
	next := d.CurrentValue + step
	if d.MaxValue != nil && next > *d.MaxValue {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted,
			fmt.Sprintf("sequence %s is capped at %d", id, *d.MaxValue), nil)
	}
	d.CurrentValue = next
	d.Step = step
	d.UpdatedAt = now
	return next, nil
}

// CounterRepository allocates monotonic sequence numbers, primarily the
// per-year order numbers stamped onto new orders at checkout.
type CounterRepository struct {
	provider  *pfirestore.Provider
	sequences *pfirestore.BaseRepository[sequenceDoc]
}

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider:  provider,
		sequences: pfirestore.NewBaseRepository[sequenceDoc](provider, countersCollection),
	}, nil
}

// Next hands out the next value of the named sequence, creating the
// sequence on first use. A step of zero means "use the stored step".
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput,
			fmt.Sprintf("step must not be negative, got %d", step), nil)
	}

	var allocated int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sequences.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return r.seedSequence(tx, ref, step, now, &allocated)
		}
		if err != nil {
			return err
		}

		var doc sequenceDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("decode sequence %s: %w", id, err)
		}
		next, err := doc.advance(id, step, now)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		allocated = next
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return allocated, nil
}

// seedSequence creates a sequence document on first allocation. The
// first value equals the step so "SM-2026" style sequences start at 1.
func (r *CounterRepository) seedSequence(tx *firestore.Transaction, ref *firestore.DocumentRef, step int64, now time.Time, allocated *int64) error {
	if step <= 0 {
		step = 1
	}
	doc := sequenceDoc{CurrentValue: step, Step: step, UpdatedAt: now}
	if err := tx.Create(ref, doc); err != nil {
		return err
	}
	*allocated = doc.CurrentValue
	return nil
}

// Configure adjusts a sequence's step, cap, or current position. Only
// the fields set on cfg are written.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence id is required", nil)
	}

	updates := map[string]any{"updatedAt": time.Now().UTC()}
	if cfg.Step > 0 {
		updates["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		updates["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		updates["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.sequences.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, updates, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
