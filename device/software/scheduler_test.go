package software

import (
	"testing"
	"time"
)

func TestRowSchedulerFirstDispatch(t *testing.T) {
	sch := newRowScheduler()

	blocks := sch.Schedule(4, 10)
	exp := []uint32{4, 2, 2, 2}
	if len(blocks) != len(exp) {
		t.Fatalf("expected %d blocks; got %d", len(exp), len(blocks))
	}
	for i := range exp {
		if blocks[i] != exp[i] {
			t.Fatalf("expected block %d to have %d rows; got %d", i, exp[i], blocks[i])
		}
	}
}

func TestRowSchedulerMoreWorkersThanRows(t *testing.T) {
	sch := newRowScheduler()

	blocks := sch.Schedule(8, 3)
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks; got %d", len(blocks))
	}
	for i, rows := range blocks {
		if rows != 1 {
			t.Fatalf("expected block %d to have 1 row; got %d", i, rows)
		}
	}
}

func TestRowSchedulerFeedback(t *testing.T) {
	sch := newRowScheduler()
	sch.Schedule(2, 100)

	// Worker 0 is four times as fast as worker 1.
	sch.Record(0, 50, 50*time.Nanosecond)
	sch.Record(1, 50, 200*time.Nanosecond)

	blocks := sch.Schedule(2, 100)
	if blocks[0] != 80 || blocks[1] != 20 {
		t.Fatalf("expected blocks [80 20]; got %v", blocks)
	}
}

func TestRowSchedulerNeverOvershoots(t *testing.T) {
	sch := newRowScheduler()
	sch.Schedule(3, 4)

	// A very slow worker still gets one row; the total must not exceed
	// the frame height.
	sch.Record(0, 2, time.Millisecond)
	sch.Record(1, 1, time.Hour)
	sch.Record(2, 1, time.Hour)

	blocks := sch.Schedule(3, 4)
	var total uint32
	for i, rows := range blocks {
		if rows == 0 {
			t.Fatalf("expected block %d to have at least one row", i)
		}
		total += rows
	}
	if total != 4 {
		t.Fatalf("expected blocks to add up to 4 rows; got %v", blocks)
	}
}
