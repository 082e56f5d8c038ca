package planning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// flakyRepo reports a conflict on the first conflicts saves.
type flakyRepo struct {
	Repository
	conflicts int
	saveErr   error
	saves     int
}

func (r *flakyRepo) Save(ctx context.Context, plan *Plan) error {
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	if r.saves <= r.conflicts {
		return ErrConflict
	}
	return r.Repository.Save(ctx, plan)
}

func TestPlanAuctionRetriesConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		saveErr   error
		retries   int
		wantErr   error
		wantSaves int
	}{
		{name: "succeeds after conflicts", conflicts: 3, retries: 5, wantSaves: 4},
		{name: "gives up", conflicts: 100, retries: 4, wantErr: ErrConflictRetriesExhausted, wantSaves: 4},
		{name: "other errors are not retried", saveErr: errors.New("disk full"), retries: 5, wantSaves: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &flakyRepo{
				Repository: NewGormRepository(newTestDB(t), kiev),
				conflicts:  tt.conflicts,
				saveErr:    tt.saveErr,
			}
			cal := staticCalendar{}
			p := New(repo, nil, cal, cal, nil, Options{Location: kiev, ConflictRetries: tt.retries}, zerolog.Nop())

			_, err := p.PlanAuction(context.Background(), Request{Key: "a", NotBefore: at(2024, 6, 3, 9, 0), Strategy: NewClassic()})
			switch {
			case tt.saveErr != nil:
				if !errors.Is(err, tt.saveErr) {
					t.Fatalf("expected %v, got %v", tt.saveErr, err)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrConflict) {
					t.Fatalf("expected %v wrapping a conflict, got %v", tt.wantErr, err)
				}
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}
			if repo.saves != tt.wantSaves {
				t.Fatalf("expected %d saves, got %d", tt.wantSaves, repo.saves)
			}
		})
	}
}

func TestRetryOnConflictHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := retryOnConflict(ctx, 1000, func() error { return ErrConflict })
	if err == nil {
		t.Fatal("expected an error once the context expired")
	}
}
