package internal

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const modulePath = "github.com/Iron-Ham/roundtable/internal/"

// packageImports returns the imports of the non-test files of each package
// under internal/, keyed by package directory.
func packageImports(t *testing.T) map[string]map[string]bool {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	imports := make(map[string]map[string]bool)
	fset := token.NewFileSet()
	err = filepath.WalkDir(wd, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(wd, filepath.Dir(path))
		rel = filepath.ToSlash(rel)
		if imports[rel] == nil {
			imports[rel] = make(map[string]bool)
		}
		for _, imp := range f.Imports {
			p, _ := strconv.Unquote(imp.Path.Value)
			imports[rel][p] = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to walk %s: %v", wd, err)
	}
	return imports
}

// TestEngineHasNoIO keeps the turn loop a pure event generator: file, git
// and process access belong to its callers.
func TestEngineHasNoIO(t *testing.T) {
	forbidden := []string{
		"os", "os/exec", "net", "net/http", "io/fs",
		modulePath + "iteration",
		modulePath + "worktree",
		modulePath + "ai",
		modulePath + "orchestrator",
		modulePath + "checkpoint",
	}
	imports := packageImports(t)
	if imports["engine"] == nil {
		t.Fatal("engine package not found")
	}
	for _, p := range forbidden {
		if imports["engine"][p] {
			t.Errorf("engine imports %s", p)
		}
	}
}

// TestPackageLayers checks that the outer packages are only used from above.
func TestPackageLayers(t *testing.T) {
	allowed := map[string][]string{
		modulePath + "cmd":          {},
		modulePath + "tui":          {"cmd"},
		modulePath + "orchestrator": {"cmd"},
		modulePath + "testutil":     {},
	}
	for pkg, users := range packageImports(t) {
		for p := range users {
			importers, ok := allowed[p]
			if !ok {
				continue
			}
			permitted := false
			for _, imp := range importers {
				if pkg == imp {
					permitted = true
				}
			}
			if !permitted {
				t.Errorf("%s imports %s", pkg, strings.TrimPrefix(p, modulePath))
			}
		}
	}
}
