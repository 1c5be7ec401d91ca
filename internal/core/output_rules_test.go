package core

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"testing"
)

// sourceFile is one parsed production file, path relative to the repo root.
type sourceFile struct {
	rel  string
	file *ast.File
	fset *token.FileSet
}

func productionFiles(t *testing.T) []sourceFile {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve test file path")
	}

	// internal/core -> repo root
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", ".."))
	fset := token.NewFileSet()
	var files []sourceFile

	walkErr := filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != repoRoot && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		file, parseErr := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if parseErr != nil {
			return parseErr
		}
		rel, _ := filepath.Rel(repoRoot, path)
		files = append(files, sourceFile{rel: filepath.ToSlash(rel), file: file, fset: fset})
		return nil
	})
	if walkErr != nil {
		t.Fatalf("failed to scan repository: %v", walkErr)
	}
	if len(files) == 0 {
		t.Fatal("no production files found")
	}
	return files
}

func report(t *testing.T, title string, violations []string) {
	t.Helper()
	if len(violations) > 0 {
		slices.Sort(violations)
		t.Fatalf("%s:\n%s", title, strings.Join(violations, "\n"))
	}
}

func TestNoForbiddenStdOutputCallsInProductionCode(t *testing.T) {
	forbidden := map[string][]string{
		"":    {"print", "println"},
		"fmt": {"Print", "Printf", "Println"},
		"log": {"Print", "Printf", "Println", "Fatal", "Fatalf", "Panicf"},
	}

	var violations []string
	for _, sf := range productionFiles(t) {
		ast.Inspect(sf.file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			var pkg, name string
			switch fn := call.Fun.(type) {
			case *ast.Ident:
				name = fn.Name
			case *ast.SelectorExpr:
				id, ok := fn.X.(*ast.Ident)
				if !ok {
					return true
				}
				pkg, name = id.Name, fn.Sel.Name
			default:
				return true
			}
			if slices.Contains(forbidden[pkg], name) {
				if pkg != "" {
					name = pkg + "." + name
				}
				violations = append(violations, sf.fset.Position(call.Pos()).String()+" uses "+name)
			}
			return true
		})
	}
	report(t, "found forbidden output calls in production code", violations)
}

func TestImportRulesInProductionCode(t *testing.T) {
	tests := []struct {
		importPath string
		allowedIn  string // path prefix that may import it; empty means nowhere
	}{
		{"encoding/json", ""},
		{"github.com/sirupsen/logrus", "internal/log/"},
		{"go.uber.org/dig", "internal/container/"},
	}

	var violations []string
	for _, sf := range productionFiles(t) {
		for _, imp := range sf.file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				continue
			}
			for _, tt := range tests {
				if path != tt.importPath {
					continue
				}
				if tt.allowedIn == "" || !strings.HasPrefix(sf.rel, tt.allowedIn) {
					violations = append(violations, sf.rel+" imports "+path)
				}
			}
		}
	}
	report(t, "found imports outside their owning package", violations)
}
