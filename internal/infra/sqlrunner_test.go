package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestSplitMarker(t *testing.T) {
	marker, stmt, err := splitMarker("\n--sql 0b9c7c1e-4f55-4d8e-9a43-3c1f1a2b8e10\nselect 1;\n")
	if err != nil {
		t.Fatalf("splitMarker: %v", err)
	}
	if marker != "0b9c7c1e-4f55-4d8e-9a43-3c1f1a2b8e10" {
		t.Fatalf("marker = %q", marker)
	}
	if stmt != "select 1;" {
		t.Fatalf("stmt = %q", stmt)
	}

	for _, q := range []string{"", "select 1;", "--sql not-a-uuid\nselect 1;", "-- sql 0b9c7c1e-4f55-4d8e-9a43-3c1f1a2b8e10\nselect 1;"} {
		if _, _, err := splitMarker(q); !errors.Is(err, ErrSQLMarker) {
			t.Fatalf("splitMarker(%q) err = %v", q, err)
		}
	}
}

func TestSQLRunnerRejectsUnmarkedQueries(t *testing.T) {
	r := NewSQLRunner(nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := r.Exec(ctx, "delete from tasks"); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("Exec err = %v", err)
	}
	if _, err := r.Query(ctx, "select * from tasks"); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("Query err = %v", err)
	}
	var n int
	if err := r.QueryRow(ctx, "select 1").Scan(&n); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("QueryRow err = %v", err)
	}
}
