/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package registry

import (
	"fmt"
	"strings"
	"time"
)

// Auction is the subset of a registry auction the service reads.
type Auction struct {
	ID                      string             `json:"id"`
	Mode                    string             `json:"mode,omitempty"`
	Status                  string             `json:"status,omitempty"`
	ProcurementMethodType   string             `json:"procurementMethodType,omitempty"`
	SubmissionMethodDetails string             `json:"submissionMethodDetails,omitempty"`
	AuctionParameters       *AuctionParameters `json:"auctionParameters,omitempty"`
	AuctionPeriod           *Period            `json:"auctionPeriod,omitempty"`
	Lots                    []Lot              `json:"lots,omitempty"`
	NextCheck               string             `json:"next_check,omitempty"`
}

// AuctionParameters carries the explicit auction type, when the registry sets one.
type AuctionParameters struct {
	Type string `json:"type,omitempty"`
}

// Type returns auctionParameters.type or "".
func (a *Auction) Type() string {
	if a.AuctionParameters == nil {
		return ""
	}
	return a.AuctionParameters.Type
}

// Period is an auction or lot auctionPeriod. Timestamps stay in their wire
// form; use ParseTime to read them.
type Period struct {
	StartDate        string `json:"startDate,omitempty"`
	EndDate          string `json:"endDate,omitempty"`
	ShouldStartAfter string `json:"shouldStartAfter,omitempty"`
}

// Lot is one lot of a multi-lot auction.
type Lot struct {
	ID            string  `json:"id"`
	Status        string  `json:"status,omitempty"`
	AuctionPeriod *Period `json:"auctionPeriod,omitempty"`
}

// Page is one page of the changes feed.
type Page struct {
	Data     []Auction `json:"data"`
	NextPage PageLink  `json:"next_page"`
	PrevPage PageLink  `json:"prev_page"`
}

// PageLink points at a neighbouring feed page.
type PageLink struct {
	URI    string `json:"uri"`
	Offset string `json:"offset,omitempty"`
}

// Patch is the body of a planning update.
type Patch struct {
	AuctionPeriod *PeriodPatch `json:"auctionPeriod,omitempty"`
	Lots          []LotPatch   `json:"lots,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p *Patch) Empty() bool {
	return p == nil || (p.AuctionPeriod == nil && len(p.Lots) == 0)
}

// PeriodPatch sets a new start date.
type PeriodPatch struct {
	StartDate string `json:"startDate"`
}

// LotPatch is positional; an unchanged lot is sent as {}.
type LotPatch struct {
	AuctionPeriod *PeriodPatch `json:"auctionPeriod,omitempty"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ParseTime reads an ISO 8601 timestamp. Values without a zone are taken to
// be in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
