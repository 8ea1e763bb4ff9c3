package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "spectrocal/internal/core", true},
		{InternalImportForbidden, "spectrocal/pkg/calibration", false},
		{InfraImportForbidden, "spectrocal/internal/infra/persistence/sqlite", true},
		{InfraImportForbidden, "spectrocal/internal/spectro", false},
		{CLIImportForbidden, "github.com/spf13/cobra", true},
		{CLIImportForbidden, "gopkg.in/yaml.v3", false},
		{AnyOf(InfraImportForbidden, CLIImportForbidden), "github.com/spf13/pflag", true},
		{AnyOf(), "fmt", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	writeGo(t, dir, "x_test.go", "package tmp\nimport _ \"spectrocal/internal/core\"")
	AssertNoDirectImports(t, dir, InternalImportForbidden, "tests may import anything")
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "bad.go", "package tmp\nimport _ \"spectrocal/internal/infra/usb\"")
	viols, err := directImportViolations(dir, InfraImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "bad.go") {
		t.Fatalf("unexpected violations %v", viols)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InfraImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	writeGo(t, dir, "broken.go", "package")
	if _, err := directImportViolations(dir, InfraImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = format }

func TestFailIfDirectViolations(t *testing.T) {
	var r recorder
	failIfDirectViolations(&r, "reason", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure")
	}
	failIfDirectViolations(&r, "reason", []string{"x"})
	if !strings.Contains(r.msg, "forbidden direct imports") {
		t.Fatalf("expected failure, got %q", r.msg)
	}
}

func TestAssertNoImportsUnderSkipsHiddenDirs(t *testing.T) {
	root := t.TempDir()
	writeGo(t, filepath.Join(root, "a"), "a.go", "package a\nimport \"fmt\"\nvar _ = fmt.Sprint")
	writeGo(t, filepath.Join(root, "_ref"), "r.go", "package r\nimport _ \"github.com/spf13/cobra\"")
	writeGo(t, filepath.Join(root, "testdata"), "d.go", "package d\nimport _ \"github.com/spf13/cobra\"")
	AssertNoImportsUnder(t, root, CLIImportForbidden, "cli stays in cmd")
}
