package dpmm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Genotype entry values. Anything other than a confident absence or
// presence call is Missing and contributes to no likelihood term.
const (
	Absent  int8 = 0
	Present int8 = 1
	Missing int8 = -1
)

// DataFormatError reports a malformed input matrix or assignment file.
// Line is 1-based; 0 means the problem is not tied to a single line.
type DataFormatError struct {
	Line   int
	Reason string
}

func (e *DataFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("dpmm: malformed input at line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("dpmm: malformed input: %s", e.Reason)
}

// GenotypeMatrix holds N cells × M mutation sites of ternary genotype calls.
// It is immutable after construction and safe for concurrent reads, so a
// single instance is shared by all chains.
type GenotypeMatrix struct {
	cells int
	sites int
	data  []int8 // row-major, cells × sites
}

// NewGenotypeMatrix builds a matrix from per-cell rows. All rows must have
// the same length and contain only Absent, Present, or Missing.
func NewGenotypeMatrix(rows [][]int8) (*GenotypeMatrix, error) {
	if len(rows) == 0 {
		return nil, &DataFormatError{Reason: "no rows"}
	}
	m := len(rows[0])
	if m == 0 {
		return nil, &DataFormatError{Reason: "no columns"}
	}
	g := &GenotypeMatrix{cells: len(rows), sites: m, data: make([]int8, len(rows)*m)}
	for i, row := range rows {
		if len(row) != m {
			return nil, &DataFormatError{Line: i + 1,
				Reason: fmt.Sprintf("row has %d columns, expected %d", len(row), m)}
		}
		for j, v := range row {
			if v != Absent && v != Present && v != Missing {
				return nil, &DataFormatError{Line: i + 1,
					Reason: fmt.Sprintf("invalid genotype value %d", v)}
			}
			g.data[i*m+j] = v
		}
	}
	return g, nil
}

// Cells returns the number of cells N.
func (g *GenotypeMatrix) Cells() int { return g.cells }

// Sites returns the number of mutation sites M.
func (g *GenotypeMatrix) Sites() int { return g.sites }

// At returns the call for cell i at site j.
func (g *GenotypeMatrix) At(i, j int) int8 { return g.data[i*g.sites+j] }

// IsMissing reports whether the call for cell i at site j is missing.
func (g *GenotypeMatrix) IsMissing(i, j int) bool { return g.data[i*g.sites+j] == Missing }

// row returns the calls of cell i as a read-only slice.
func (g *GenotypeMatrix) row(i int) []int8 { return g.data[i*g.sites : (i+1)*g.sites] }

// FilterUninformativeSites returns a copy with sites that are missing in
// every cell removed, along with the original indices of the kept sites.
// If nothing is dropped the receiver itself is returned.
func (g *GenotypeMatrix) FilterUninformativeSites() (*GenotypeMatrix, []int) {
	keep := make([]int, 0, g.sites)
	for j := 0; j < g.sites; j++ {
		for i := 0; i < g.cells; i++ {
			if !g.IsMissing(i, j) {
				keep = append(keep, j)
				break
			}
		}
	}
	if len(keep) == g.sites {
		idx := make([]int, g.sites)
		for j := range idx {
			idx[j] = j
		}
		return g, idx
	}
	out := &GenotypeMatrix{cells: g.cells, sites: len(keep), data: make([]int8, g.cells*len(keep))}
	for i := 0; i < g.cells; i++ {
		for jj, j := range keep {
			out.data[i*out.sites+jj] = g.At(i, j)
		}
	}
	return out, keep
}

// SelectSites returns a copy restricted to the given site indices, in
// order. Useful for aligning a ground-truth matrix with a filtered input.
func (g *GenotypeMatrix) SelectSites(indices []int) *GenotypeMatrix {
	out := &GenotypeMatrix{cells: g.cells, sites: len(indices), data: make([]int8, g.cells*len(indices))}
	for i := 0; i < g.cells; i++ {
		for jj, j := range indices {
			out.data[i*out.sites+jj] = g.At(i, j)
		}
	}
	return out
}

// parseToken maps one matrix field to a genotype value. "3" and the empty
// field mark missing data, matching the upstream file convention.
func parseToken(tok string) (int8, bool) {
	switch tok {
	case "0":
		return Absent, true
	case "1":
		return Present, true
	case "", "3":
		return Missing, true
	}
	// Tolerate float-formatted calls such as "1.0" or "nan".
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case f == 0:
		return Absent, true
	case f == 1:
		return Present, true
	case f == 3, f != f: // NaN
		return Missing, true
	}
	return 0, false
}

// ParseMatrix reads a whitespace- or tab-delimited genotype matrix. Rows are
// cells and columns are sites unless transpose is set, in which case the
// file is read as sites × cells. Fields must be 0, 1, or a missing marker
// (3 or an empty tab-delimited field).
func ParseMatrix(r io.Reader, transpose bool) (*GenotypeMatrix, error) {
	var rows [][]int8
	width := -1
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		var toks []string
		if strings.ContainsRune(text, '\t') {
			toks = strings.Split(text, "\t")
		} else {
			toks = strings.Fields(text)
		}
		row := make([]int8, len(toks))
		for j, tok := range toks {
			v, ok := parseToken(strings.TrimSpace(tok))
			if !ok {
				return nil, &DataFormatError{Line: line,
					Reason: fmt.Sprintf("invalid token %q", tok)}
			}
			row[j] = v
		}
		if width == -1 {
			width = len(row)
		} else if len(row) != width {
			return nil, &DataFormatError{Line: line,
				Reason: fmt.Sprintf("row has %d columns, expected %d", len(row), width)}
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dpmm: reading matrix: %w", err)
	}
	if len(rows) == 0 {
		return nil, &DataFormatError{Reason: "empty matrix"}
	}
	if transpose {
		t := make([][]int8, width)
		for j := range t {
			t[j] = make([]int8, len(rows))
			for i := range rows {
				t[j][i] = rows[i][j]
			}
		}
		rows = t
	}
	return NewGenotypeMatrix(rows)
}

// LoadMatrix reads a genotype matrix from a file. See ParseMatrix.
func LoadMatrix(path string, transpose bool) (*GenotypeMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dpmm: %w", err)
	}
	defer f.Close()
	return ParseMatrix(f, transpose)
}

// ParseAssignment reads a fixed cluster assignment: integer labels separated
// by whitespace or newlines, one per cell. Labels may be arbitrary integers;
// they are relabeled to a contiguous range starting at 0.
func ParseAssignment(r io.Reader, cells int) ([]int, error) {
	var raw []int
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	line := 0
	for sc.Scan() {
		line++
		v, err := strconv.Atoi(sc.Text())
		if err != nil {
			return nil, &DataFormatError{Line: line,
				Reason: fmt.Sprintf("invalid cluster label %q", sc.Text())}
		}
		raw = append(raw, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dpmm: reading assignment: %w", err)
	}
	if len(raw) != cells {
		return nil, &DataFormatError{
			Reason: fmt.Sprintf("assignment has %d labels, expected %d cells", len(raw), cells)}
	}
	relabel := make(map[int]int)
	out := make([]int, len(raw))
	for i, v := range raw {
		id, ok := relabel[v]
		if !ok {
			id = len(relabel)
			relabel[v] = id
		}
		out[i] = id
	}
	return out, nil
}

// LoadAssignment reads a fixed cluster assignment from a file.
func LoadAssignment(path string, cells int) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dpmm: %w", err)
	}
	defer f.Close()
	return ParseAssignment(f, cells)
}
