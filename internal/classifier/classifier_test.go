package classifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskbridge/taskbridge/constants"
)

func TestClassifyDefaultPatterns(t *testing.T) {
	rs := MustCompile(DefaultConfig())

	cases := []struct {
		name     string
		snapshot map[string]any
		want     constants.TaskState
		wantOK   bool
	}{
		{
			name:     "completed transform job",
			snapshot: map[string]any{"TransformJobStatus": "Completed"},
			want:     constants.TaskStateCompleted,
			wantOK:   true,
		},
		{
			name:     "case insensitive substring",
			snapshot: map[string]any{"status": "JOB_STOPPED_BY_USER"},
			want:     constants.TaskStateCancelled,
			wantOK:   true,
		},
		{
			name:     "cancelling beats cancelled on shared stem",
			snapshot: map[string]any{"status": "Stopping"},
			want:     constants.TaskStateCancelling,
			wantOK:   true,
		},
		{
			name:     "in progress matches nothing",
			snapshot: map[string]any{"TransformJobStatus": "InProgress"},
			wantOK:   false,
		},
		{
			name:     "no status field present",
			snapshot: map[string]any{"TransformJobArn": "arn:aws:sagemaker:job/abc"},
			wantOK:   false,
		},
		{
			name:     "non-string value is stringified",
			snapshot: map[string]any{"status": true},
			wantOK:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Classify(tc.snapshot, rs)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Fatalf("state = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyLastFieldWins(t *testing.T) {
	rs := MustCompile(DefaultConfig())

	// Both fields present and disagreeing: the later field in the configured
	// order ("status") must win.
	state, ok := Classify(map[string]any{
		"TransformJobStatus": "Completed",
		"status":             "Stopped",
	}, rs)
	if !ok || state != constants.TaskStateCancelled {
		t.Fatalf("state = %s ok=%v, want CANCELLED", state, ok)
	}

	// A later field that matches nothing must not erase an earlier result.
	state, ok = Classify(map[string]any{
		"TransformJobStatus": "Completed",
		"status":             "InProgress",
	}, rs)
	if !ok || state != constants.TaskStateCompleted {
		t.Fatalf("state = %s ok=%v, want COMPLETED", state, ok)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	rs := MustCompile(DefaultConfig())
	snapshot := map[string]any{"TransformJobStatus": "Expired"}

	first, ok1 := Classify(snapshot, rs)
	second, ok2 := Classify(snapshot, rs)
	if ok1 != ok2 || first != second {
		t.Fatalf("classification not idempotent: %s/%v vs %s/%v", first, ok1, second, ok2)
	}
	if first != constants.TaskStateExpired {
		t.Fatalf("state = %s, want EXPIRED", first)
	}
}

func TestCompileRejectsBadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompletedRegex = "("
	if _, err := Compile(cfg); err == nil {
		t.Fatal("expected compile error for unbalanced pattern")
	}
}

func TestHolderSwapIsAtomicSnapshot(t *testing.T) {
	old := MustCompile(DefaultConfig())
	holder := NewHolder(old)

	// A reader that grabbed the snapshot before the swap keeps classifying
	// with the old patterns end to end.
	snapshot := holder.Current()

	next := DefaultConfig()
	next.CompletedRegex = "finished"
	holder.Swap(MustCompile(next))

	if _, ok := snapshot.Match("Completed"); !ok {
		t.Fatal("pre-swap snapshot should still match old pattern")
	}
	if _, ok := holder.Current().Match("Completed"); ok {
		t.Fatal("post-swap snapshot should not match old pattern")
	}
	if st, ok := holder.Current().Match("finished"); !ok || st != constants.TaskStateCompleted {
		t.Fatalf("post-swap snapshot should match new pattern, got %s/%v", st, ok)
	}
}

func TestBatchEnabledFlag(t *testing.T) {
	cfg := DefaultConfig()
	if !MustCompile(cfg).BatchEnabled() {
		t.Fatal("flag should default to enabled")
	}
	off := false
	cfg.BatchReconciliation = &off
	if MustCompile(cfg).BatchEnabled() {
		t.Fatal("flag should be disabled")
	}
}

func TestWatchReloadsRuleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	write := func(body string) {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("status_fields: [\"status\"]\ncompleted_regex: \"completed\"\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	holder := NewHolder(MustCompile(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := StartWatch(ctx, path, holder, nil); err != nil {
		t.Fatal(err)
	}

	write("status_fields: [\"status\"]\ncompleted_regex: \"done\"\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := holder.Current().Match("all done"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("rule set was not reloaded after file change")
}
