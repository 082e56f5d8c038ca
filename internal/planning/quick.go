/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"math"
	"time"
)

// Auction duration model used for accelerated (sandbox) timing.
const (
	BidderTime  = 6 * time.Minute
	ServiceTime = 9 * time.Minute
	MinPause    = 3 * time.Minute
	Rounding    = 29 * time.Minute
)

// roundingAnchor is the time of day the rounding grid is measured from.
var roundingAnchor = Clock(11, 0)

// CalcAuctionEndTime estimates when an auction with the given number of bids
// that starts at start will end. The result is rounded up to the Rounding
// grid anchored at 11:00 of the end day, with sub-second precision dropped.
func CalcAuctionEndTime(bids int, start time.Time) time.Time {
	end := start.Add(time.Duration(bids)*BidderTime + ServiceTime + MinPause)

	const day = 24 * 60 * 60
	since := int64(math.Floor(end.Sub(roundingAnchor.On(end)).Seconds()))
	seconds := ((since % day) + day) % day

	step := int64(Rounding / time.Second)
	rounded := (seconds + step - 1) / step * step

	return end.Truncate(time.Second).Add(time.Duration(rounded-seconds) * time.Second)
}
