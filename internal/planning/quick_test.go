package planning

import (
	"testing"
	"time"
)

func TestCalcAuctionEndTime(t *testing.T) {
	tests := []struct {
		name  string
		bids  int
		start time.Time
		want  time.Time
	}{
		{"noon start", 0, time.Date(2024, 6, 3, 12, 0, 0, 500, kiev), at(2024, 6, 3, 12, 27)},
		{"before anchor", 0, at(2024, 6, 3, 10, 30), at(2024, 6, 3, 11, 10)},
		{"on grid", 0, time.Date(2024, 6, 3, 11, 17, 0, 0, kiev), at(2024, 6, 3, 11, 29)},
		{"four bids", 4, at(2024, 6, 3, 12, 0), at(2024, 6, 3, 12, 56)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalcAuctionEndTime(tt.bids, tt.start)
			if !got.Equal(tt.want) {
				t.Fatalf("CalcAuctionEndTime(%d, %s) = %s, want %s", tt.bids, tt.start, got, tt.want)
			}
		})
	}
}
