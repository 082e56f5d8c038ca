package state

import (
	"reflect"
	"testing"
	"time"
)

func TestBeginParksConcurrentRuns(t *testing.T) {
	s := NewStore()
	now := time.Now()
	first := now.Add(time.Minute)
	second := now.Add(2 * time.Minute)

	if !s.Begin("a", now, now) {
		t.Fatal("first run should start")
	}
	if !s.Begin("b", now, now) {
		t.Fatal("other ids are independent")
	}
	if s.Begin("a", first, now) || s.Begin("a", second, now) {
		t.Fatal("a is busy and must be parked")
	}
	if got := s.Running(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("running = %v", got)
	}

	parked, ok := s.Finish("a")
	if !ok || !parked.Equal(second) {
		t.Fatalf("expected the latest parked run, got %v %v", parked, ok)
	}
	if _, ok := s.Finish("a"); ok {
		t.Fatal("parked run must be handed back once")
	}
	if !s.Begin("a", second, now) {
		t.Fatal("a should be free again")
	}
}
