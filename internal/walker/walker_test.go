package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func collect(t *testing.T, root string, opts Options) []string {
	t.Helper()
	files, errs := Walk(context.Background(), root, opts)
	var got []string
	for f := range files {
		got = append(got, f.RelPath)
	}
	if err := <-errs; err != nil {
		t.Fatalf("walk: %v", err)
	}
	sort.Strings(got)
	return got
}

func TestWalkIgnores(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"main.go",
		"pkg/db/query.go",
		"pkg/db/query_test.go",
		"node_modules/lib/index.js",
		".patternmem/memory.db",
		"web/app.min.js",
	} {
		writeFile(t, root, rel)
	}

	got := collect(t, root, Options{Ignore: append([]string{"**/*.min.js", "**/*_test.go"}, DefaultIgnores...)})
	want := []string{"main.go", "pkg/db/query.go"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestWalkIgnoreFileAndWant(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py")
	writeFile(t, root, "gen/b.py")
	writeFile(t, root, "c.py")
	if err := os.WriteFile(filepath.Join(root, IgnoreFile), []byte("# generated\ngen\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := collect(t, root, Options{Want: func(rel string) bool { return rel != "c.py" }})
	if len(got) != 2 || got[0] != ".patternmemignore" || got[1] != "a.py" {
		t.Errorf("got %v", got)
	}
}

func TestIgnored(t *testing.T) {
	cases := []struct {
		name, rel string
		want      bool
	}{
		{"vendor", "vendor", true},
		{"x.go", "third_party/x.go", true},
		{"x.go", "src/x.go", false},
		{"x.pb.go", "api/v1/x.pb.go", true},
	}
	patterns := []string{"vendor", "third_party/", "**/*.pb.go"}
	for _, c := range cases {
		if got := Ignored(c.name, c.rel, patterns); got != c.want {
			t.Errorf("Ignored(%q, %q) = %v, want %v", c.name, c.rel, got, c.want)
		}
	}
}
