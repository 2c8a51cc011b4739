package db_test

import (
	"testing"

	"github.com/ricirt/taskdispatch/internal/db"
)

func TestMigrationURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/todo":   "pgx5://u:p@localhost:5432/todo",
		"postgresql://u:p@localhost:5432/todo": "pgx5://u:p@localhost:5432/todo",
		"u:p@localhost:5432/todo":              "pgx5://u:p@localhost:5432/todo",
	}
	for in, want := range cases {
		if got := db.MigrationURL(in); got != want {
			t.Errorf("MigrationURL(%q) = %q, want %q", in, got, want)
		}
	}
}
