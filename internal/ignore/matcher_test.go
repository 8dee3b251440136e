package ignore_test

import (
	"testing"

	"github.com/temirov/ctxload/internal/ignore"
)

type pathExpectation struct {
	relativePath string
	ignored      bool
}

func TestMatcherIsIgnored(t *testing.T) {
	testCases := []struct {
		testName     string
		ignoreText   string
		expectations []pathExpectation
	}{
		{
			testName:   "directory rule covers nested files",
			ignoreText: "logs/\n",
			expectations: []pathExpectation{
				{relativePath: "logs/error.log", ignored: true},
				{relativePath: "logs/access/nested.log", ignored: true},
				{relativePath: "src/main.go", ignored: false},
			},
		},
		{
			testName:   "directory rule does not match a file with the same name",
			ignoreText: "build/\n",
			expectations: []pathExpectation{
				{relativePath: "build", ignored: false},
				{relativePath: "build/output.bin", ignored: true},
			},
		},
		{
			testName:   "extension wildcard at any depth",
			ignoreText: "*.tmp\n",
			expectations: []pathExpectation{
				{relativePath: "data.tmp", ignored: true},
				{relativePath: "src/temp.tmp", ignored: true},
				{relativePath: "data.tmp.bak", ignored: false},
			},
		},
		{
			testName:   "named character class",
			ignoreText: "[[:upper:]]*.md\nnotes[[:digit:]].txt\n[![:alpha:]]*.cfg\n",
			expectations: []pathExpectation{
				{relativePath: "README.md", ignored: true},
				{relativePath: "docs/Guide.md", ignored: true},
				{relativePath: "readme.md", ignored: false},
				{relativePath: "notes7.txt", ignored: true},
				{relativePath: "notesx.txt", ignored: false},
				{relativePath: "1app.cfg", ignored: true},
				{relativePath: "app.cfg", ignored: false},
			},
		},
		{
			testName:   "double star between segments",
			ignoreText: "foo/**/bar.txt\n",
			expectations: []pathExpectation{
				{relativePath: "foo/bar.txt", ignored: true},
				{relativePath: "foo/a/b/bar.txt", ignored: true},
				{relativePath: "other/foo/bar.txt", ignored: false},
			},
		},
		{
			testName:   "leading slash anchors to root",
			ignoreText: "/root.file\n",
			expectations: []pathExpectation{
				{relativePath: "root.file", ignored: true},
				{relativePath: "src/root.file", ignored: false},
			},
		},
		{
			testName:   "negation re-includes a file",
			ignoreText: "*.md\n!important.md\n",
			expectations: []pathExpectation{
				{relativePath: "readme.md", ignored: true},
				{relativePath: "important.md", ignored: false},
				{relativePath: "docs/important.md", ignored: false},
			},
		},
		{
			testName:   "negation of a file inside an ignored directory",
			ignoreText: "build/\n!build/special.dll\n",
			expectations: []pathExpectation{
				{relativePath: "build/special.dll", ignored: false},
				{relativePath: "build/app.exe", ignored: true},
			},
		},
		{
			testName:   "order decides over specificity",
			ignoreText: "!debug.log\n*.log\n",
			expectations: []pathExpectation{
				{relativePath: "debug.log", ignored: true},
			},
		},
		{
			testName:   "later directory wildcard overrides earlier negation",
			ignoreText: "*.log\n!foo/debug.log\nfoo/*\n",
			expectations: []pathExpectation{
				{relativePath: "foo/debug.log", ignored: true},
			},
		},
		{
			testName:   "later negation overrides directory wildcard",
			ignoreText: "foo/*\n!foo/debug.log\n",
			expectations: []pathExpectation{
				{relativePath: "foo/debug.log", ignored: false},
				{relativePath: "foo/other.log", ignored: true},
			},
		},
		{
			testName:   "bare name matches a directory ancestor",
			ignoreText: "output\n",
			expectations: []pathExpectation{
				{relativePath: "output/file.txt", ignored: true},
				{relativePath: "src/output/file.txt", ignored: true},
				{relativePath: "outputs/file.txt", ignored: false},
			},
		},
		{
			testName:   "wildcard inside a basename",
			ignoreText: "d*a.txt\n",
			expectations: []pathExpectation{
				{relativePath: "src/data.txt", ignored: true},
				{relativePath: "src/delta.md", ignored: false},
			},
		},
		{
			testName:   "path with inner slash is anchored",
			ignoreText: "docs/README.md\n",
			expectations: []pathExpectation{
				{relativePath: "docs/README.md", ignored: true},
				{relativePath: "other/docs/README.md", ignored: false},
			},
		},
		{
			testName:   "leading double star",
			ignoreText: "**/logs\n",
			expectations: []pathExpectation{
				{relativePath: "logs/a.txt", ignored: true},
				{relativePath: "deep/nested/logs/b.txt", ignored: true},
				{relativePath: "catalogs/c.txt", ignored: false},
			},
		},
		{
			testName:   "leading double star directory only",
			ignoreText: "**/logs/\n",
			expectations: []pathExpectation{
				{relativePath: "logs/a.txt", ignored: true},
				{relativePath: "deep/logs/b.txt", ignored: true},
			},
		},
		{
			testName:   "trailing double star",
			ignoreText: "vendor/**\n",
			expectations: []pathExpectation{
				{relativePath: "vendor/a/b.go", ignored: true},
				{relativePath: "src/vendor/a.go", ignored: false},
			},
		},
		{
			testName:   "unicode names",
			ignoreText: "données/\ncaf?.txt\n日本語.md\n",
			expectations: []pathExpectation{
				{relativePath: "données/fichier.txt", ignored: true},
				{relativePath: "menu/café.txt", ignored: true},
				{relativePath: "notes/日本語.md", ignored: true},
				{relativePath: "notes/中文.md", ignored: false},
			},
		},
		{
			testName:   "hash inside a line is literal",
			ignoreText: "a#b.txt\n# a comment\n",
			expectations: []pathExpectation{
				{relativePath: "a#b.txt", ignored: true},
				{relativePath: "# a comment", ignored: false},
			},
		},
		{
			testName:   "escaped leading characters",
			ignoreText: "\\#literal.txt\n\\!bang.txt\n",
			expectations: []pathExpectation{
				{relativePath: "#literal.txt", ignored: true},
				{relativePath: "!bang.txt", ignored: true},
			},
		},
		{
			testName:   "character classes",
			ignoreText: "file[0-9].txt\n[!a]*.go\n",
			expectations: []pathExpectation{
				{relativePath: "file1.txt", ignored: true},
				{relativePath: "filea.txt", ignored: false},
				{relativePath: "main.go", ignored: true},
				{relativePath: "api.go", ignored: false},
			},
		},
		{
			testName:   "question mark does not cross separators",
			ignoreText: "a?b\n",
			expectations: []pathExpectation{
				{relativePath: "axb", ignored: true},
				{relativePath: "a/b", ignored: false},
			},
		},
		{
			testName:   "no rules include everything",
			ignoreText: "\n\n# only comments\n",
			expectations: []pathExpectation{
				{relativePath: "anything.txt", ignored: false},
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.testName, func(t *testing.T) {
			matcher := ignore.New(testCase.ignoreText)
			if parseErrors := matcher.ParseErrors(); len(parseErrors) > 0 {
				t.Fatalf("unexpected parse errors: %v", parseErrors)
			}
			for _, expectation := range testCase.expectations {
				if actual := matcher.IsIgnored(expectation.relativePath); actual != expectation.ignored {
					t.Errorf("IsIgnored(%q) = %v, want %v", expectation.relativePath, actual, expectation.ignored)
				}
			}
		})
	}
}

func TestParseRecordsRuleAttributes(t *testing.T) {
	rules, parseErrors := ignore.Parse("# header\n!/build/\nsrc/*.go\n*.log\n")
	if len(parseErrors) != 0 {
		t.Fatalf("unexpected parse errors: %v", parseErrors)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}

	first := rules[0]
	if first.RawPattern != "!/build/" || !first.IsNegation || !first.IsAnchored || !first.IsDirectoryOnly {
		t.Fatalf("unexpected first rule attributes: %+v", first)
	}
	if first.SourceOrderIndex != 0 || first.LineNumber != 2 {
		t.Fatalf("unexpected first rule position: index %d line %d", first.SourceOrderIndex, first.LineNumber)
	}
	if !rules[1].IsAnchored || rules[1].IsNegation || rules[1].IsDirectoryOnly {
		t.Fatalf("unexpected second rule attributes: %+v", rules[1])
	}
	if rules[2].IsAnchored || rules[2].SourceOrderIndex != 2 {
		t.Fatalf("unexpected third rule attributes: %+v", rules[2])
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	matcher := ignore.New("*.log\n[abc\n*.tmp\ntrailing\\\n!\n")
	parseErrors := matcher.ParseErrors()
	if len(parseErrors) != 3 {
		t.Fatalf("expected 3 parse errors, got %d: %v", len(parseErrors), parseErrors)
	}
	expectedLines := []int{2, 4, 5}
	for index, parseError := range parseErrors {
		if parseError.LineNumber != expectedLines[index] {
			t.Errorf("parse error %d on line %d, want %d", index, parseError.LineNumber, expectedLines[index])
		}
		if parseError.Error() == "" {
			t.Errorf("expected a non-empty error message")
		}
	}
	if len(matcher.Rules()) != 2 {
		t.Fatalf("expected 2 valid rules, got %d", len(matcher.Rules()))
	}
	if !matcher.IsIgnored("a.log") || !matcher.IsIgnored("b.tmp") {
		t.Fatalf("expected remaining rules to apply")
	}
}

func TestExtendAppendsRulesAfterExisting(t *testing.T) {
	matcher := ignore.New("*.log\n").Extend([]string{"!keep.log", "dist/"})
	if matcher.IsIgnored("keep.log") {
		t.Fatalf("expected appended negation to re-include keep.log")
	}
	if !matcher.IsIgnored("dist/bundle.js") {
		t.Fatalf("expected appended directory rule to apply")
	}
	if !matcher.HasNegations() {
		t.Fatalf("expected matcher to report negations")
	}
	rules := matcher.Rules()
	if rules[len(rules)-1].SourceOrderIndex != len(rules)-1 {
		t.Fatalf("expected contiguous source order indexes, got %+v", rules)
	}
}

func TestIsIgnoredDir(t *testing.T) {
	matcher := ignore.New("node_modules/\n")
	if !matcher.IsIgnoredDir("web/node_modules") {
		t.Fatalf("expected node_modules directory to be ignored")
	}
	if matcher.IsIgnored("web/node_modules") {
		t.Fatalf("expected a file named node_modules to be included")
	}
}

func TestNilMatcherIgnoresNothing(t *testing.T) {
	var matcher *ignore.Matcher
	if matcher.IsIgnored("any/path.txt") {
		t.Fatalf("expected nil matcher to include every path")
	}
}

func TestFreeFunctionMatchesMatcher(t *testing.T) {
	rules, _ := ignore.Parse("build/\n!build/special.dll\n")
	if ignore.IsIgnored("build/special.dll", rules) {
		t.Fatalf("expected build/special.dll to be included")
	}
	if !ignore.IsIgnored("build/app.exe", rules) {
		t.Fatalf("expected build/app.exe to be ignored")
	}
}

func TestParseRejectsUnknownNamedClass(t *testing.T) {
	matcher := ignore.New("[[:vowel:]]*\n*.log\n")
	parseErrors := matcher.ParseErrors()
	if len(parseErrors) != 1 || parseErrors[0].LineNumber != 1 {
		t.Fatalf("expected one parse error on line 1, got %v", parseErrors)
	}
	if matcher.IsIgnored("apple") || !matcher.IsIgnored("a.log") {
		t.Fatalf("expected only the valid rule to apply")
	}
}
