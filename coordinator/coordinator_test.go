package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunRestoresEveryTask(t *testing.T) {
	c := New(2)
	tasks := []Task{
		{TableID: "orders", Restore: func(context.Context) (any, error) { return "orders-facade", nil }},
		{TableID: "sessions", Restore: func(context.Context) (any, error) { return "sessions-facade", nil }},
		{TableID: "windows", Restore: func(context.Context) (any, error) { return "windows-facade", nil }},
	}

	results, err := c.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byTable := make(map[string]Result)
	for _, r := range results {
		byTable[r.TableID] = r
	}
	for _, tableID := range []string{"orders", "sessions", "windows"} {
		r, ok := byTable[tableID]
		if !ok {
			t.Fatalf("missing result for table %s", tableID)
		}
		if r.Err != nil {
			t.Errorf("table %s: unexpected error: %v", tableID, r.Err)
		}
	}
}

func TestRunCollectsPerTaskErrorsWithoutFailingOthers(t *testing.T) {
	c := New(2)
	boom := errors.New("boom")
	tasks := []Task{
		{TableID: "good", Restore: func(context.Context) (any, error) { return "ok", nil }},
		{TableID: "bad", Restore: func(context.Context) (any, error) { return nil, boom }},
	}

	results, err := c.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected pool-level error: %v", err)
	}

	var goodErr, badErr error
	for _, r := range results {
		switch r.TableID {
		case "good":
			goodErr = r.Err
		case "bad":
			badErr = r.Err
		}
	}
	if goodErr != nil {
		t.Errorf("good table should not have failed: %v", goodErr)
	}
	if badErr == nil || !errors.Is(badErr, boom) {
		t.Errorf("bad table should report the underlying error, got: %v", badErr)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	c := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task{
		{TableID: "slow", Restore: func(ctx context.Context) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too-late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
	}

	_, err := c.Run(ctx, tasks)
	if err == nil {
		t.Error("expected an error from a cancelled context")
	}
}

func TestStatusesReportsTablesDone(t *testing.T) {
	c := New(1)
	tasks := []Task{
		{TableID: "orders", Restore: func(context.Context) (any, error) { return "ok", nil }},
	}
	if _, err := c.Run(context.Background(), tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 worker status, got %d", len(statuses))
	}
	if statuses[0].TablesDone != 1 {
		t.Errorf("expected TablesDone=1, got %d", statuses[0].TablesDone)
	}
}
