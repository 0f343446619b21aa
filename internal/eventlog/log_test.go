package eventlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/relaybot/dashboard/internal/models"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Millisecond)
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	l := New(1000, nil)
	for i := 1; i <= 1005; i++ {
		l.Append(models.LevelInfo, fmt.Sprintf("m%d", i))
	}

	if got := l.Len(); got != 1000 {
		t.Fatalf("Len() = %d, want 1000", got)
	}
	all := l.All()
	if all[0].Message != "m6" || all[len(all)-1].Message != "m1005" {
		t.Errorf("retained range = %s..%s, want m6..m1005", all[0].Message, all[len(all)-1].Message)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq != all[i-1].Seq+1 {
			t.Fatalf("seq gap at %d: %d after %d", i, all[i].Seq, all[i-1].Seq)
		}
	}
}

func TestNewDefaultCapacity(t *testing.T) {
	if got := New(0, nil).Capacity(); got != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", got, DefaultCapacity)
	}
}

func TestAppendStampsRecord(t *testing.T) {
	l := New(10, nil)
	l.SetClock(func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 123e6, time.UTC) })

	rec := l.Append(models.LevelWarn, "disk 91% full")
	if rec.Seq != 1 {
		t.Errorf("Seq = %d, want 1", rec.Seq)
	}
	if rec.Timestamp != "2024-03-01T12:30:45.123Z" {
		t.Errorf("Timestamp = %q", rec.Timestamp)
	}
	if rec.Level != models.LevelWarn || rec.Message != "disk 91% full" {
		t.Errorf("record = %+v", rec)
	}
}

func TestSnapshotFilterAndLimit(t *testing.T) {
	l := New(100, nil)
	l.SetClock(fixedClock())
	l.Info("a")
	l.Error("b")
	l.Info("c")
	l.Append(models.LevelWarn, "d")
	l.Info("e")

	tests := []struct {
		name  string
		level models.Level
		limit int
		want  []string
	}{
		{"all", "", 0, []string{"a", "b", "c", "d", "e"}},
		{"info", models.LevelInfo, 0, []string{"a", "c", "e"}},
		{"error", models.LevelError, 0, []string{"b"}},
		{"limit keeps most recent", "", 2, []string{"d", "e"}},
		{"info limited", models.LevelInfo, 2, []string{"c", "e"}},
		{"limit above size", "", 50, []string{"a", "b", "c", "d", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Snapshot(tt.level, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.Message != tt.want[i] {
					t.Errorf("record %d = %q, want %q", i, rec.Message, tt.want[i])
				}
			}
		})
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New(10, nil)
	l.Info("original")
	snap := l.All()
	snap[0].Message = "changed"
	if got := l.All()[0].Message; got != "original" {
		t.Errorf("log mutated through snapshot: %q", got)
	}
}

func TestSinksSeeAppendOrder(t *testing.T) {
	var got []uint64
	l := New(3, nil, SinkFunc(func(rec models.LogRecord) { got = append(got, rec.Seq) }))
	for i := 0; i < 5; i++ {
		l.Info("m%d", i)
	}
	want := []uint64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("sink saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sink saw %v, want %v", got, want)
		}
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := New(1000, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.Info("x")
				_ = l.Snapshot(models.LevelInfo, 10)
			}
		}()
	}
	wg.Wait()

	all := l.All()
	if len(all) != 1000 {
		t.Fatalf("Len = %d, want 1000", len(all))
	}
	if all[len(all)-1].Seq != 1600 || all[0].Seq != 601 {
		t.Errorf("retained seq %d..%d, want 601..1600", all[0].Seq, all[len(all)-1].Seq)
	}
}

// Every record is seen exactly once by a viewer that replays then subscribes
// while appends continue.
func TestReplayAndSubscribeNoGapNoDuplicate(t *testing.T) {
	var mu sync.Mutex
	subscribed := false
	var live []uint64
	l := New(10000, nil, SinkFunc(func(rec models.LogRecord) {
		mu.Lock()
		defer mu.Unlock()
		if subscribed {
			live = append(live, rec.Seq)
		}
	}))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				l.Info("tick")
			}
		}
	}()
	time.Sleep(5 * time.Millisecond)

	history := l.ReplayAndSubscribe(func() {
		mu.Lock()
		subscribed = true
		mu.Unlock()
	})
	time.Sleep(5 * time.Millisecond)
	close(stop)
	<-done

	mu.Lock()
	defer mu.Unlock()
	seen := make([]uint64, 0, len(history)+len(live))
	for _, rec := range history {
		seen = append(seen, rec.Seq)
	}
	seen = append(seen, live...)
	if len(seen) == 0 {
		t.Fatal("no records observed")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] != seen[i-1]+1 {
			t.Fatalf("sequence broken at %d: %d after %d", i, seen[i], seen[i-1])
		}
	}
}
