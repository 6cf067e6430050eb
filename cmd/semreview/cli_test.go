package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPolicyValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ai-reviewer.yml")
	policy := "failure_on_severity: high\nskip_branch_patterns:\n  - release/*\n"
	if err := os.WriteFile(path, []byte(policy), 0o644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}

	cmd := policyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"validate", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("policy validate failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "is valid") {
		t.Errorf("expected a validity line, got:\n%s", got)
	}
	if !strings.Contains(got, "high") {
		t.Errorf("expected the overridden severity, got:\n%s", got)
	}
	if !strings.Contains(got, "release/*") {
		t.Errorf("expected the branch pattern, got:\n%s", got)
	}
	if !strings.Contains(got, "inline_best_effort") {
		t.Errorf("expected the default comment mode, got:\n%s", got)
	}
}

func TestPolicyValidateRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ai-reviewer.yml")
	if err := os.WriteFile(path, []byte("review_comment_mode: nonsense\n"), 0o644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}

	cmd := policyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"validate", path})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error for an invalid comment mode")
	}
	if !strings.Contains(err.Error(), "review_comment_mode") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func writePatchFixture(t *testing.T) (dir, target, patchFile, original string) {
	t.Helper()
	dir = t.TempDir()
	target = filepath.Join(dir, "greet.go")
	original = "package main\n\nfunc greet() string {\n\treturn \"hello\"\n}\n"
	if err := os.WriteFile(target, []byte(original), 0o644); err != nil {
		t.Fatalf("writing target: %v", err)
	}

	diff := strings.Join([]string{
		"--- a/greet.go",
		"+++ b/greet.go",
		"@@ -1,5 +1,5 @@",
		" package main",
		" ",
		" func greet() string {",
		"-\treturn \"hello\"",
		"+\treturn \"hello, world\"",
		" }",
		"",
	}, "\n")
	patchFile = filepath.Join(dir, "fix.patch")
	if err := os.WriteFile(patchFile, []byte(diff), 0o644); err != nil {
		t.Fatalf("writing patch: %v", err)
	}
	return dir, target, patchFile, original
}

func TestPatchApplyCommand(t *testing.T) {
	dir, target, patchFile, _ := writePatchFixture(t)

	cmd := patchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"apply", patchFile, "--dir", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("patch apply failed: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading patched file: %v", err)
	}
	want := "package main\n\nfunc greet() string {\n\treturn \"hello, world\"\n}\n"
	if string(got) != want {
		t.Errorf("patched content mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
	if !strings.Contains(out.String(), "Patched") {
		t.Errorf("expected a confirmation line, got %q", out.String())
	}
}

func TestPatchApplyStdout(t *testing.T) {
	dir, target, patchFile, original := writePatchFixture(t)

	cmd := patchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"apply", patchFile, "--dir", dir, "--stdout"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("patch apply failed: %v", err)
	}

	if !strings.Contains(out.String(), "hello, world") {
		t.Errorf("expected the patched content on stdout, got %q", out.String())
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading target: %v", err)
	}
	if string(got) != original {
		t.Error("stdout mode must leave the file untouched")
	}
}

func TestPatchApplyRejectsNonDiff(t *testing.T) {
	dir := t.TempDir()
	patchFile := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(patchFile, []byte("just some prose\n"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	cmd := patchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"apply", patchFile, "--dir", dir})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error for a non-diff input")
	}
	if !strings.Contains(err.Error(), "does not look like a unified diff") {
		t.Errorf("unexpected error %v", err)
	}
}
