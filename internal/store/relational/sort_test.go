package relational

import "testing"

func TestResolveListSQL_Defaults(t *testing.T) {
	sql, err := resolveListSQL(transformListSQL, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := transformListSQL[[2]string{"updated_at", "desc"}]
	if sql != want {
		t.Fatalf("expected default updated_at/desc variant")
	}
}

func TestResolveListSQL_KnownCombinations(t *testing.T) {
	for _, field := range []string{"created_at", "updated_at", "title"} {
		for _, dir := range []string{"asc", "desc"} {
			if _, err := resolveListSQL(transformListSQL, field, dir); err != nil {
				t.Fatalf("expected %s/%s to resolve, got %v", field, dir, err)
			}
		}
	}
}

func TestResolveListSQL_Unknown(t *testing.T) {
	if _, err := resolveListSQL(transformListSQL, "owner_id", "asc"); err == nil {
		t.Fatal("expected error for unlisted sort field")
	}
	if _, err := resolveListSQL(transformListSQL, "title", "sideways"); err == nil {
		t.Fatal("expected error for unlisted sort direction")
	}
}
