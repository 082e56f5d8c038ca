package planning

import (
	"context"
	"errors"
	"testing"
)

func TestGormRepositoryRoundTrip(t *testing.T) {
	repo := NewGormRepository(newTestDB(t), kiev)
	ctx := context.Background()
	day := at(2024, 6, 3, 0, 0)

	if _, err := repo.Load(ctx, "plan_2024-06-03"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}

	plan := &Plan{ID: "plan_2024-06-03", Day: day, Strategy: "english", CursorTime: Clock(12, 0), CursorStream: 1}
	plan.Assign(1, Clock(11, 0), "a")
	plan.Assign(1, Clock(11, 30), "")
	if err := repo.Save(ctx, plan); err != nil {
		t.Fatalf("save: %v", err)
	}
	if plan.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", plan.Revision)
	}

	loaded, err := repo.Load(ctx, plan.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CursorTime != Clock(12, 0) || loaded.CursorStream != 1 || len(loaded.Slots) != 2 {
		t.Fatalf("unexpected plan %+v", loaded)
	}
	if free, ok := loaded.FirstFree(); !ok || free.Time != Clock(11, 30) {
		t.Fatalf("expected the free cell at 11:30, got %+v %v", free, ok)
	}
	if !loaded.Day.Equal(day) {
		t.Fatalf("day drifted: %s", loaded.Day)
	}
}

func TestGormRepositoryDetectsStaleWrites(t *testing.T) {
	repo := NewGormRepository(newTestDB(t), kiev)
	ctx := context.Background()

	first := &Plan{ID: "plan_insider_2024-06-03", Day: at(2024, 6, 3, 0, 0), Strategy: "insider", Occupants: []string{"a"}}
	second := first.Clone()
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("concurrent create should conflict, got %v", err)
	}

	a, _ := repo.Load(ctx, first.ID)
	b, _ := repo.Load(ctx, first.ID)
	a.Occupants = append(a.Occupants, "b")
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	b.Occupants = append(b.Occupants, "c")
	if err := repo.Save(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update should conflict, got %v", err)
	}

	final, err := repo.Load(ctx, first.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(final.Occupants) != 2 || final.Occupants[1] != "b" {
		t.Fatalf("unexpected occupants %v", final.Occupants)
	}
}

func TestFindByOccupantMatchesAuctionAndLots(t *testing.T) {
	repo := NewGormRepository(newTestDB(t), kiev)
	ctx := context.Background()

	plan := &Plan{ID: "plan_2024-06-03", Day: at(2024, 6, 3, 0, 0), Strategy: "english", CursorStream: 1}
	plan.Assign(1, Clock(11, 0), "a_b")
	plan.Assign(1, Clock(11, 30), "a_b_lot1")
	plan.Assign(1, Clock(12, 0), "a_bc")
	plan.Assign(1, Clock(12, 30), "axb_lot1")
	if err := repo.Save(ctx, plan); err != nil {
		t.Fatalf("save: %v", err)
	}

	holdings, err := repo.FindByOccupant(ctx, "a_b")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := map[string]bool{}
	for _, h := range holdings {
		got[h.Occupant] = true
	}
	if len(got) != 2 || !got["a_b"] || !got["a_b_lot1"] {
		t.Fatalf("unexpected holdings %+v", holdings)
	}
}
