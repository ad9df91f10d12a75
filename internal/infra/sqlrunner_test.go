package infra

import "testing"

func TestExtractMarkerValid(t *testing.T) {
	query := `--sql 7c1f3b9e-2d44-4c1a-9e67-d2a4f80b6c15
select 1;
`
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		t.Fatal(err)
	}
	if marker != "7c1f3b9e-2d44-4c1a-9e67-d2a4f80b6c15" {
		t.Fatalf("marker = %q", marker)
	}
	if trimmed != "select 1;" {
		t.Fatalf("trimmed = %q", trimmed)
	}
}

func TestExtractMarkerMissing(t *testing.T) {
	if _, _, err := extractMarker("select 1;"); err == nil {
		t.Fatal("expected error for unmarked query")
	}
	if _, _, err := extractMarker("--sql not-a-uuid\nselect 1;"); err == nil {
		t.Fatal("expected error for malformed marker")
	}
}
