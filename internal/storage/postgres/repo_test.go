package postgres

import (
	"strings"
	"testing"
)

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	got := buildInsertSQL("site_data", []string{"date_id", "search_term", "clicks"}, 2)
	want := `INSERT INTO site_data ("date_id", "search_term", "clicks") VALUES ($1, $2, $3), ($4, $5, $6) ON CONFLICT DO NOTHING`
	if got != want {
		t.Fatalf("buildInsertSQL=\n%s\nwant\n%s", got, want)
	}
}

func TestSchemaDDL_DedupeConstraints(t *testing.T) {
	t.Parallel()

	// Every fact table needs a UNIQUE constraint for ON CONFLICT DO NOTHING to
	// have something to conflict against.
	wantUnique := map[string]string{
		"dates":            "UNIQUE (date)",
		"user_interaction": "UNIQUE (date_id)",
		"content_metrics":  "UNIQUE (date_id, page_title)",
		"site_data":        "UNIQUE (date_id, search_term)",
	}

	for table, constraint := range wantUnique {
		found := false
		for _, ddl := range schemaDDL {
			if strings.Contains(ddl, table) && strings.Contains(ddl, constraint) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no DDL for table %s with constraint %q", table, constraint)
		}
	}
}
