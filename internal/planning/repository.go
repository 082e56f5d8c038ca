/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/chronograph/internal/models"
	"gorm.io/gorm"
)

// Holding is one stored cell whose occupant belongs to an auction.
type Holding struct {
	PlanID   string
	Strategy string
	Day      time.Time
	Stream   int
	Position int
	Occupant string
}

// Repository gives conflict-checked access to plan documents.
type Repository interface {
	// Load returns ErrPlanNotFound for a plan that was never saved.
	Load(ctx context.Context, id string) (*Plan, error)
	// Save writes plan if nobody else saved it since it was loaded, and
	// returns ErrConflict otherwise. On success plan.Revision is advanced.
	Save(ctx context.Context, plan *Plan) error
	// FindByOccupant lists cells held by auctionID or any of its lots.
	FindByOccupant(ctx context.Context, auctionID string) ([]Holding, error)
}

// GormRepository stores plans in the plans and plan_slots tables.
type GormRepository struct {
	db  *gorm.DB
	loc *time.Location
}

// NewGormRepository constructs a repository. loc is the planning timezone
// used to interpret stored days.
func NewGormRepository(db *gorm.DB, loc *time.Location) *GormRepository {
	return &GormRepository{db: db, loc: loc}
}

func (r *GormRepository) Load(ctx context.Context, id string) (*Plan, error) {
	var row models.Plan
	err := r.db.WithContext(ctx).
		Preload("Slots", func(tx *gorm.DB) *gorm.DB { return tx.Order("stream, position") }).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}
	return r.fromModel(&row)
}

func (r *GormRepository) Save(ctx context.Context, plan *Plan) error {
	next := plan.Revision + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if plan.Revision == 0 {
			row := models.Plan{
				ID:           plan.ID,
				Mode:         plan.Mode,
				Day:          DateKey(plan.Day),
				Strategy:     plan.Strategy,
				CursorTime:   plan.CursorTime.Seconds(),
				CursorStream: plan.CursorStream,
				Revision:     next,
			}
			if err := tx.Omit("Slots").Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrConflict
				}
				return err
			}
		} else {
			res := tx.Model(&models.Plan{}).
				Where("id = ? AND revision = ?", plan.ID, plan.Revision).
				Updates(map[string]any{
					"cursor_time":   plan.CursorTime.Seconds(),
					"cursor_stream": plan.CursorStream,
					"strategy":      plan.Strategy,
					"revision":      next,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
		}

		if err := tx.Where("plan_id = ?", plan.ID).Delete(&models.PlanSlot{}).Error; err != nil {
			return err
		}
		cells := toCells(plan)
		if len(cells) == 0 {
			return nil
		}
		return tx.Create(&cells).Error
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}

	plan.Revision = next
	return nil
}

func (r *GormRepository) FindByOccupant(ctx context.Context, auctionID string) ([]Holding, error) {
	var cells []models.PlanSlot
	err := r.db.WithContext(ctx).
		Where("occupant = ? OR occupant LIKE ? ESCAPE '!'", auctionID, escapeLike(auctionID)+"!_%").
		Find(&cells).Error
	if err != nil {
		return nil, fmt.Errorf("find holdings of %s: %w", auctionID, err)
	}

	planIDs := make([]string, 0, len(cells))
	seen := map[string]bool{}
	var matched []models.PlanSlot
	for _, c := range cells {
		if c.Occupant == nil || !ownedBy(*c.Occupant, auctionID) {
			continue
		}
		matched = append(matched, c)
		if !seen[c.PlanID] {
			seen[c.PlanID] = true
			planIDs = append(planIDs, c.PlanID)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	var plans []models.Plan
	if err := r.db.WithContext(ctx).Where("id IN ?", planIDs).Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("find plans of %s: %w", auctionID, err)
	}
	byID := make(map[string]models.Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}

	out := make([]Holding, 0, len(matched))
	for _, c := range matched {
		p, ok := byID[c.PlanID]
		if !ok {
			continue
		}
		day, err := time.ParseInLocation(time.DateOnly, p.Day, r.loc)
		if err != nil {
			return nil, fmt.Errorf("plan %s has bad day %q: %w", p.ID, p.Day, err)
		}
		out = append(out, Holding{
			PlanID:   p.ID,
			Strategy: p.Strategy,
			Day:      day,
			Stream:   c.Stream,
			Position: c.Position,
			Occupant: *c.Occupant,
		})
	}
	return out, nil
}

func (r *GormRepository) fromModel(row *models.Plan) (*Plan, error) {
	day, err := time.ParseInLocation(time.DateOnly, row.Day, r.loc)
	if err != nil {
		return nil, fmt.Errorf("plan %s has bad day %q: %w", row.ID, row.Day, err)
	}
	p := &Plan{
		ID:           row.ID,
		Mode:         row.Mode,
		Day:          day,
		Strategy:     row.Strategy,
		CursorTime:   FromSeconds(row.CursorTime),
		CursorStream: row.CursorStream,
		Revision:     row.Revision,
	}
	for _, c := range row.Slots {
		occupant := ""
		if c.Occupant != nil {
			occupant = *c.Occupant
		}
		if c.Stream == 0 {
			if occupant != "" {
				p.Occupants = append(p.Occupants, occupant)
			}
			continue
		}
		p.Slots = append(p.Slots, Slot{Stream: c.Stream, Time: FromSeconds(c.Position), Occupant: occupant})
	}
	return p, nil
}

// toCells flattens a plan into rows. Capacity occupants use stream 0.
func toCells(p *Plan) []models.PlanSlot {
	cells := make([]models.PlanSlot, 0, len(p.Slots)+len(p.Occupants))
	for _, s := range p.Slots {
		cell := models.PlanSlot{PlanID: p.ID, Stream: s.Stream, Position: s.Time.Seconds()}
		if !s.Free() {
			occupant := s.Occupant
			cell.Occupant = &occupant
		}
		cells = append(cells, cell)
	}
	for i, o := range p.Occupants {
		occupant := o
		cells = append(cells, models.PlanSlot{PlanID: p.ID, Stream: 0, Position: i, Occupant: &occupant})
	}
	return cells
}

// ownedBy reports whether occupant is auctionID itself or one of its lots.
func ownedBy(occupant, auctionID string) bool {
	return occupant == auctionID || strings.HasPrefix(occupant, auctionID+"_")
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
