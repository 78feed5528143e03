package repostate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func TestHashOutsideRepository(t *testing.T) {
	h, err := Hash(t.TempDir())
	if err != nil || h != "" {
		t.Errorf("Hash = %q, %v", h, err)
	}
}

func TestHashCleanAndDirty(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	if err != nil {
		t.Fatal(err)
	}

	h, err := Hash(root)
	if err != nil || h != "" {
		t.Fatalf("empty repo: Hash = %q, %v", h, err)
	}

	file := filepath.Join(root, "app.py")
	if err := os.WriteFile(file, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("app.py"); err != nil {
		t.Fatal(err)
	}
	commit, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	h, err = Hash(filepath.Join(root))
	if err != nil {
		t.Fatal(err)
	}
	if h != commit.String() {
		t.Errorf("clean Hash = %q, want %q", h, commit.String())
	}

	if err := os.WriteFile(file, []byte("print('bye')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, _ = Hash(root)
	if !strings.HasSuffix(h, DirtySuffix) || !strings.HasPrefix(h, commit.String()) {
		t.Errorf("dirty Hash = %q", h)
	}
}
