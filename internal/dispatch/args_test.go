package dispatch_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ricirt/taskdispatch/internal/dispatch"
)

func TestArgs_Accessors(t *testing.T) {
	due := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	args, err := dispatch.NewArgs(int64(42), "task_created", due.Format(time.RFC3339), map[string]string{"title": "x"})
	if err != nil {
		t.Fatal(err)
	}

	if args.Len() != 4 {
		t.Fatalf("expected 4 args, got %d", args.Len())
	}
	if id, err := args.Int64(0); err != nil || id != 42 {
		t.Fatalf("Int64(0) = %d, %v", id, err)
	}
	if s, err := args.String(1); err != nil || s != "task_created" {
		t.Fatalf("String(1) = %q, %v", s, err)
	}
	if ts, err := args.Time(2); err != nil || !ts.Equal(due) {
		t.Fatalf("Time(2) = %v, %v", ts, err)
	}
	var data map[string]string
	if err := args.Decode(3, &data); err != nil || data["title"] != "x" {
		t.Fatalf("Decode(3) = %v, %v", data, err)
	}
}

func TestArgs_Errors(t *testing.T) {
	args, _ := dispatch.NewArgs("not-a-number")

	if _, err := args.Int64(0); !errors.Is(err, dispatch.ErrInvalidArgs) {
		t.Fatalf("expected ErrInvalidArgs for type mismatch, got %v", err)
	}
	if _, err := args.String(1); !errors.Is(err, dispatch.ErrInvalidArgs) {
		t.Fatalf("expected ErrInvalidArgs for missing arg, got %v", err)
	}
	if _, err := args.Time(0); !errors.Is(err, dispatch.ErrInvalidArgs) {
		t.Fatalf("expected ErrInvalidArgs for bad time, got %v", err)
	}
}

func TestArgs_StringOr(t *testing.T) {
	args, _ := dispatch.NewArgs(int64(1), nil)

	if s, err := args.StringOr(1, "info"); err != nil || s != "info" {
		t.Fatalf("null arg: got %q, %v", s, err)
	}
	if s, err := args.StringOr(5, "info"); err != nil || s != "info" {
		t.Fatalf("absent arg: got %q, %v", s, err)
	}
}
