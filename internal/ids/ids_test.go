package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := NewAt(at)
	b := NewAt(at)
	if a >= b {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
	c := NewAt(at.Add(time.Millisecond))
	if b >= c {
		t.Fatalf("expected later timestamp to sort after: %s vs %s", b, c)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := Time(NewAt(at))
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %s, got %s", at, got)
	}
	if _, err := Time("not-an-id"); err == nil {
		t.Fatal("expected parse error")
	}
}
