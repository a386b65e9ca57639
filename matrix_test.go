package dpmm

import (
	"errors"
	"strings"
	"testing"
)

func TestParseMatrix_Basic(t *testing.T) {
	in := "0 1 1\n1 0 3\n0 0 1\n"
	g, err := ParseMatrix(strings.NewReader(in), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Cells() != 3 || g.Sites() != 3 {
		t.Fatalf("got %dx%d, want 3x3", g.Cells(), g.Sites())
	}
	if g.At(0, 1) != Present || g.At(1, 0) != Present || g.At(2, 2) != Present {
		t.Error("present calls misparsed")
	}
	if !g.IsMissing(1, 2) {
		t.Error("expected (1,2) to be missing")
	}
}

func TestParseMatrix_TabsAndEmptyFields(t *testing.T) {
	in := "0\t1\t\n1\t\t0\n"
	g, err := ParseMatrix(strings.NewReader(in), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.IsMissing(0, 2) || !g.IsMissing(1, 1) {
		t.Error("empty tab-delimited fields should be missing")
	}
}

func TestParseMatrix_FloatTokens(t *testing.T) {
	in := "0.0 1.0 nan\n1.0 0.0 3.0\n"
	g, err := ParseMatrix(strings.NewReader(in), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.At(0, 1) != Present || g.At(1, 0) != Present {
		t.Error("float-formatted calls misparsed")
	}
	if !g.IsMissing(0, 2) || !g.IsMissing(1, 2) {
		t.Error("nan and 3.0 should be missing")
	}
}

func TestParseMatrix_Transpose(t *testing.T) {
	// Two sites (rows) by three cells (columns).
	in := "0 1 1\n1 0 1\n"
	g, err := ParseMatrix(strings.NewReader(in), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Cells() != 3 || g.Sites() != 2 {
		t.Fatalf("got %dx%d, want 3x2", g.Cells(), g.Sites())
	}
	if g.At(0, 0) != Absent || g.At(0, 1) != Present {
		t.Error("transpose misplaced entries")
	}
}

func TestParseMatrix_RaggedRows(t *testing.T) {
	in := "0 1 1\n1 0\n"
	_, err := ParseMatrix(strings.NewReader(in), false)
	var dfe *DataFormatError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DataFormatError, got %v", err)
	}
	if dfe.Line != 2 {
		t.Errorf("expected error at line 2, got %d", dfe.Line)
	}
}

func TestParseMatrix_InvalidToken(t *testing.T) {
	in := "0 1\nx 0\n"
	_, err := ParseMatrix(strings.NewReader(in), false)
	var dfe *DataFormatError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DataFormatError, got %v", err)
	}
}

func TestParseMatrix_Empty(t *testing.T) {
	if _, err := ParseMatrix(strings.NewReader(""), false); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestFilterUninformativeSites(t *testing.T) {
	in := "0 3 1\n1 3 0\n"
	g, err := ParseMatrix(strings.NewReader(in), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, kept := g.FilterUninformativeSites()
	if f.Sites() != 2 {
		t.Fatalf("expected 2 kept sites, got %d", f.Sites())
	}
	if kept[0] != 0 || kept[1] != 2 {
		t.Errorf("kept indices = %v, want [0 2]", kept)
	}
	if f.At(0, 1) != Present || f.At(1, 1) != Absent {
		t.Error("filtered matrix misaligned")
	}
}

func TestSelectSites(t *testing.T) {
	in := "0 1 1\n1 0 0\n"
	g, _ := ParseMatrix(strings.NewReader(in), false)
	sel := g.SelectSites([]int{2, 0})
	if sel.Sites() != 2 {
		t.Fatalf("expected 2 sites, got %d", sel.Sites())
	}
	if sel.At(0, 0) != Present || sel.At(0, 1) != Absent {
		t.Error("site selection misaligned")
	}
}

func TestParseAssignment(t *testing.T) {
	labels, err := ParseAssignment(strings.NewReader("5 5 9 5 2\n"), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 0, 1, 0, 2}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}
}

func TestParseAssignment_WrongLength(t *testing.T) {
	_, err := ParseAssignment(strings.NewReader("1 2 3"), 5)
	var dfe *DataFormatError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DataFormatError, got %v", err)
	}
}
