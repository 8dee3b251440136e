package crawler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/temirov/ctxload/internal/crawler"
	"github.com/temirov/ctxload/internal/types"
)

// writeWorkspaceFile creates a file and its parent directories under root.
func writeWorkspaceFile(t *testing.T, root string, relativePath string, content string) {
	t.Helper()
	absolutePath := filepath.Join(root, filepath.FromSlash(relativePath))
	if makeDirectoryError := os.MkdirAll(filepath.Dir(absolutePath), 0o755); makeDirectoryError != nil {
		t.Fatalf("create directory for %s: %v", relativePath, makeDirectoryError)
	}
	if writeError := os.WriteFile(absolutePath, []byte(content), 0o644); writeError != nil {
		t.Fatalf("write %s: %v", relativePath, writeError)
	}
}

func candidatePaths(result crawler.Result) []string {
	paths := make([]string, 0, len(result.Candidates))
	for _, candidate := range result.Candidates {
		paths = append(paths, candidate.RelativePath)
	}
	return paths
}

func TestEnumerateAppliesIgnoreFileAndSkipsGit(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, ".gitignore", "*.log\n!keep.log\nbuild/\n")
	writeWorkspaceFile(t, workspaceRoot, "a.log", "ignored")
	writeWorkspaceFile(t, workspaceRoot, "keep.log", "kept")
	writeWorkspaceFile(t, workspaceRoot, "b.txt", "text")
	writeWorkspaceFile(t, workspaceRoot, "build/out.bin", "binary")
	writeWorkspaceFile(t, workspaceRoot, "src/main.go", "package main")
	writeWorkspaceFile(t, workspaceRoot, ".git/HEAD", "ref: refs/heads/main")

	result, enumerateError := crawler.New(crawler.Options{}).Enumerate(context.Background(), workspaceRoot)
	if enumerateError != nil {
		t.Fatalf("Enumerate error: %v", enumerateError)
	}
	expected := []string{"b.txt", "keep.log", "src/main.go"}
	if actual := candidatePaths(result); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
	if !result.IgnoreFilePresent {
		t.Fatalf("expected ignore file to be reported present")
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
}

func TestEnumerateWithoutIgnoreFileReturnsEverything(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, "x.txt", "x")
	writeWorkspaceFile(t, workspaceRoot, "dir/y.txt", "y")

	result, enumerateError := crawler.New(crawler.Options{}).Enumerate(context.Background(), workspaceRoot)
	if enumerateError != nil {
		t.Fatalf("Enumerate error: %v", enumerateError)
	}
	expected := []string{"dir/y.txt", "x.txt"}
	if actual := candidatePaths(result); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
	if result.IgnoreFilePresent {
		t.Fatalf("expected ignore file to be absent")
	}
}

func TestEnumerateNegationInsideIgnoredDirectory(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, ".gitignore", "build/\n!build/special.dll\n")
	writeWorkspaceFile(t, workspaceRoot, "build/special.dll", "dll")
	writeWorkspaceFile(t, workspaceRoot, "build/app.exe", "exe")

	result, enumerateError := crawler.New(crawler.Options{}).Enumerate(context.Background(), workspaceRoot)
	if enumerateError != nil {
		t.Fatalf("Enumerate error: %v", enumerateError)
	}
	expected := []string{"build/special.dll"}
	if actual := candidatePaths(result); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

func TestEnumerateHiddenEntries(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, ".env", "SECRET=1")
	writeWorkspaceFile(t, workspaceRoot, ".github/workflows/ci.yml", "on: push")
	writeWorkspaceFile(t, workspaceRoot, ".git/config", "[core]")
	writeWorkspaceFile(t, workspaceRoot, "main.go", "package main")

	testCases := []struct {
		testName      string
		includeHidden bool
		expected      []string
	}{
		{testName: "hidden entries skipped by default", includeHidden: false, expected: []string{"main.go"}},
		{testName: "hidden entries listed on request", includeHidden: true, expected: []string{".env", ".github/workflows/ci.yml", "main.go"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.testName, func(t *testing.T) {
			result, enumerateError := crawler.New(crawler.Options{IncludeHidden: testCase.includeHidden}).Enumerate(context.Background(), workspaceRoot)
			if enumerateError != nil {
				t.Fatalf("Enumerate error: %v", enumerateError)
			}
			if actual := candidatePaths(result); !reflect.DeepEqual(actual, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, actual)
			}
		})
	}
}

func TestEnumerateExclusionPatterns(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, "vendor/lib.go", "package lib")
	writeWorkspaceFile(t, workspaceRoot, "main.go", "package main")

	result, enumerateError := crawler.New(crawler.Options{ExclusionPatterns: []string{"vendor/"}}).Enumerate(context.Background(), workspaceRoot)
	if enumerateError != nil {
		t.Fatalf("Enumerate error: %v", enumerateError)
	}
	expected := []string{"main.go"}
	if actual := candidatePaths(result); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

func TestEnumerateListsSymlinksWithoutFollowing(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, "real/a.txt", "a")
	if symlinkError := os.Symlink(filepath.Join(workspaceRoot, "real"), filepath.Join(workspaceRoot, "link")); symlinkError != nil {
		t.Skipf("symlinks unavailable: %v", symlinkError)
	}

	result, enumerateError := crawler.New(crawler.Options{}).Enumerate(context.Background(), workspaceRoot)
	if enumerateError != nil {
		t.Fatalf("Enumerate error: %v", enumerateError)
	}
	expected := []string{"link", "real/a.txt"}
	if actual := candidatePaths(result); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
	if !result.Candidates[0].IsSymlink || result.Candidates[1].IsSymlink {
		t.Fatalf("unexpected symlink flags: %+v", result.Candidates)
	}
}

func TestEnumerateUnreadableDirectoryBecomesWarning(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for this user")
	}
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, "ok.txt", "ok")
	writeWorkspaceFile(t, workspaceRoot, "locked/secret.txt", "secret")
	lockedDirectory := filepath.Join(workspaceRoot, "locked")
	if chmodError := os.Chmod(lockedDirectory, 0o000); chmodError != nil {
		t.Fatalf("chmod: %v", chmodError)
	}
	t.Cleanup(func() { _ = os.Chmod(lockedDirectory, 0o755) })

	result, enumerateError := crawler.New(crawler.Options{}).Enumerate(context.Background(), workspaceRoot)
	if enumerateError != nil {
		t.Fatalf("Enumerate error: %v", enumerateError)
	}
	if actual := candidatePaths(result); !reflect.DeepEqual(actual, []string{"ok.txt"}) {
		t.Fatalf("expected only ok.txt, got %v", actual)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Kind != types.IssueKindIO || result.Warnings[0].Path != "locked" {
		t.Fatalf("expected one IoError warning for locked, got %v", result.Warnings)
	}
}

func TestEnumerateReportsMalformedIgnoreRules(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, ".gitignore", "[broken\n*.tmp\n")
	writeWorkspaceFile(t, workspaceRoot, "a.tmp", "tmp")
	writeWorkspaceFile(t, workspaceRoot, "b.txt", "txt")

	result, enumerateError := crawler.New(crawler.Options{}).Enumerate(context.Background(), workspaceRoot)
	if enumerateError != nil {
		t.Fatalf("Enumerate error: %v", enumerateError)
	}
	if actual := candidatePaths(result); !reflect.DeepEqual(actual, []string{"b.txt"}) {
		t.Fatalf("unexpected candidates %v", actual)
	}
	if len(result.IgnoreParseErrors) != 1 || len(result.Warnings) != 1 || result.Warnings[0].Kind != types.IssueKindIgnoreParse {
		t.Fatalf("expected one IgnoreParseError warning, got %v", result.Warnings)
	}
}

func TestEnumerateHonorsCancellation(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, "a.txt", "a")
	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()

	_, enumerateError := crawler.New(crawler.Options{}).Enumerate(cancelledContext, workspaceRoot)
	if !errors.Is(enumerateError, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", enumerateError)
	}
}

func TestEnumerateRejectsFileRoot(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeWorkspaceFile(t, workspaceRoot, "file.txt", "x")
	if _, enumerateError := crawler.New(crawler.Options{}).Enumerate(context.Background(), filepath.Join(workspaceRoot, "file.txt")); enumerateError == nil {
		t.Fatalf("expected an error for a file root")
	}
}
