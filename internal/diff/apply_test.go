package diff

import (
	"strings"
	"testing"
)

func TestApply_LiteralInsertion(t *testing.T) {
	content := "a\nb\nc\nd\n"
	hunk := Hunk{
		OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 2,
		Lines: []string{" b", "+x"},
	}

	result, report := Apply(content, []Hunk{hunk}, DefaultOptions())

	if result != "a\nb\nx\nc\nd\n" {
		t.Errorf("unexpected result: %q", result)
	}
	if report.Applied != 1 {
		t.Errorf("expected 1 applied hunk, got %d", report.Applied)
	}
	if len(report.Skipped) != 0 {
		t.Errorf("expected no skipped hunks, got %v", report.Skipped)
	}
}

func TestApply_FuzzyRelocation(t *testing.T) {
	// The hunk declares oldStart=5, which is past the end of the file.
	// Context lines "b"/"c" occur uniquely at actual lines 2-3, so the
	// applier must relocate the hunk there.
	content := "a\nb\nc\nd\n"
	hunk := Hunk{
		OldStart: 5, OldLines: 2, NewStart: 5, NewLines: 3,
		Lines: []string{" b", " c", "+x"},
	}

	result, report := Apply(content, []Hunk{hunk}, DefaultOptions())

	if result != "a\nb\nc\nx\nd\n" {
		t.Errorf("expected relocation and insertion, got %q", result)
	}
	if report.Applied != 1 {
		t.Fatalf("expected hunk to apply, report: %+v", report)
	}
	if len(report.Relocations) != 1 {
		t.Fatalf("expected 1 relocation, got %d", len(report.Relocations))
	}
	if report.Relocations[0].AnchoredStart != 2 {
		t.Errorf("expected anchor at line 2, got %d", report.Relocations[0].AnchoredStart)
	}
}

func TestApply_ThresholdSkipsHunk(t *testing.T) {
	// Only one of three context lines exists in the file (and not two in a
	// row anywhere), so the search finds nothing acceptable and context
	// verification fails at the nominal position (1/3 = 33% < 70%).
	content := "alpha\nbeta\ngamma\ndelta\n"
	bad := Hunk{
		OldStart: 2, OldLines: 3, NewStart: 2, NewLines: 4,
		Lines: []string{" beta", " wrong1", " wrong2", "+inserted"},
	}
	good := Hunk{
		OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 2,
		Lines: []string{" alpha", "+after-alpha"},
	}

	result, report := Apply(content, []Hunk{bad, good}, DefaultOptions())

	if report.Applied != 1 {
		t.Errorf("expected exactly the good hunk to apply, got %d", report.Applied)
	}
	if len(report.Skipped) != 1 {
		t.Fatalf("expected 1 skipped hunk, got %+v", report.Skipped)
	}
	if !strings.Contains(result, "after-alpha") {
		t.Error("good hunk should still have applied")
	}
	if strings.Contains(result, "inserted") {
		t.Error("bad hunk must not have applied")
	}
}

func TestApply_DescendingOrderKeepsIndicesValid(t *testing.T) {
	content := "one\ntwo\nthree\nfour\nfive\nsix\n"
	early := Hunk{
		OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 2,
		Lines: []string{" two", "+two-and-a-half"},
	}
	late := Hunk{
		OldStart: 5, OldLines: 1, NewStart: 6, NewLines: 2,
		Lines: []string{" five", "+five-and-a-half"},
	}

	// Pass them in ascending order; Apply must reorder internally.
	result, report := Apply(content, []Hunk{early, late}, DefaultOptions())

	want := "one\ntwo\ntwo-and-a-half\nthree\nfour\nfive\nfive-and-a-half\nsix\n"
	if result != want {
		t.Errorf("got %q, want %q", result, want)
	}
	if report.Applied != 2 {
		t.Errorf("expected 2 applied hunks, got %d", report.Applied)
	}
}

func TestApply_RemoveAndReplace(t *testing.T) {
	content := "a\nold\nc\n"
	hunk := Hunk{
		OldStart: 1, OldLines: 3, NewStart: 1, NewLines: 3,
		Lines: []string{" a", "-old", "+new", " c"},
	}

	result, _ := Apply(content, []Hunk{hunk}, DefaultOptions())
	if result != "a\nnew\nc\n" {
		t.Errorf("got %q", result)
	}
}

func TestApply_EmptyHunksReturnsOriginal(t *testing.T) {
	content := "a\nb\n"
	result, report := Apply(content, nil, DefaultOptions())
	if result != content {
		t.Errorf("content should be unchanged, got %q", result)
	}
	if report.Applied != 0 {
		t.Errorf("expected 0 applied, got %d", report.Applied)
	}
}

func TestApply_PreservesMissingTrailingNewline(t *testing.T) {
	content := "a\nb"
	hunk := Hunk{
		OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 2,
		Lines: []string{" a", "+mid"},
	}
	result, _ := Apply(content, []Hunk{hunk}, DefaultOptions())
	if result != "a\nmid\nb" {
		t.Errorf("got %q", result)
	}
}

func TestNewFileContent(t *testing.T) {
	unified := "--- /dev/null\n+++ b/src/app/page.tsx\n@@ -0,0 +1,3 @@\n+export default function Page() {\n+  return null\n+}\n"
	content := NewFileContent(unified)
	want := "export default function Page() {\n  return null\n}\n"
	if content != want {
		t.Errorf("got %q, want %q", content, want)
	}
}

func TestApply_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		old  string
		new  string
	}{
		{
			name: "single edit",
			old:  "package x\n\nfunc a() {}\n\nfunc b() {}\n",
			new:  "package x\n\nfunc a() { panic(1) }\n\nfunc b() {}\n",
		},
		{
			name: "insertion and deletion far apart",
			old:  "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10\nl11\nl12\nl13\nl14\nl15\n",
			new:  "l1\nl2\nl3x\nl4\nl5\nl6\nl7\nl8\nl9\nl10\nl11\nl12\nl13\nADDED\nl14\nl15\n",
		},
		{
			name: "pure addition to empty file",
			old:  "",
			new:  "first\nsecond\n",
		},
		{
			name: "pure deletion",
			old:  "only\ncontent\n",
			new:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fd, err := Generate("file.txt", tc.old, tc.new)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			got, report := Apply(tc.old, fd.Hunks, DefaultOptions())
			if got != tc.new {
				t.Errorf("round trip failed:\n got: %q\nwant: %q\nreport: %+v", got, tc.new, report)
			}
			if len(report.Skipped) != 0 {
				t.Errorf("accurate hunks must not be skipped: %+v", report.Skipped)
			}
		})
	}
}

func TestApply_ParsedHunksRoundTrip(t *testing.T) {
	// Generate a diff, render it as text, parse it back, and apply the
	// parsed hunks. Exercises generator, renderer, parser, and applier
	// together the way the pipeline does.
	old := "a\nb\nc\nd\ne\nf\n"
	new := "a\nb\nC\nd\ne\nf\ng\n"

	fd, err := Generate("x.txt", old, new)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	parsed := ParseUnified(fd.UnifiedDiff)
	if len(parsed) == 0 {
		t.Fatal("expected parsed hunks")
	}

	got, _ := Apply(old, parsed, DefaultOptions())
	if got != new {
		t.Errorf("got %q, want %q", got, new)
	}
}
