package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncFiresOnlyAfterDeadline(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := 0
	c.AfterFunc(6*time.Second, func() { fired++ })

	c.Advance(5 * time.Second)
	if fired != 0 {
		t.Fatalf("expected no fire before deadline, got %d", fired)
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("expected one fire at deadline, got %d", fired)
	}
	c.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("expected one-shot timer, got %d fires", fired)
	}
}

func TestFakeStopPreventsFire(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatal("expected second Stop to report false")
	}
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(10 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected fire order: %v", order)
	}
}
