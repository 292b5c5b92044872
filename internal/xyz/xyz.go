// Package xyz reads and writes XYZ coordinate files and imports sampled
// frames into the configuration store.
//
// An XYZ frame is an atom count line, a free-form comment line and one
// "Element x y z" line per atom. Files may hold any number of frames.
package xyz

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/roach88/mbfit/internal/ir"
)

// Frame is one XYZ block.
type Frame struct {
	Comment string
	Atoms   []ir.Atom
}

// Reader reads consecutive frames from an XYZ stream.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{sc: sc}
}

func (r *Reader) next() (string, bool) {
	if !r.sc.Scan() {
		return "", false
	}
	r.line++
	return r.sc.Text(), true
}

// Next returns the next frame, or io.EOF when the stream is exhausted.
// Blank lines between frames are skipped.
func (r *Reader) Next() (Frame, error) {
	var header string
	for {
		line, ok := r.next()
		if !ok {
			if err := r.sc.Err(); err != nil {
				return Frame{}, fmt.Errorf("read xyz: %w", err)
			}
			return Frame{}, io.EOF
		}
		if strings.TrimSpace(line) != "" {
			header = line
			break
		}
	}

	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || n <= 0 {
		return Frame{}, fmt.Errorf("read xyz: line %d: invalid atom count %q", r.line, strings.TrimSpace(header))
	}

	comment, ok := r.next()
	if !ok {
		return Frame{}, fmt.Errorf("read xyz: line %d: truncated frame, missing comment line", r.line)
	}
	frame := Frame{Comment: strings.TrimSpace(comment), Atoms: make([]ir.Atom, 0, n)}

	for i := 0; i < n; i++ {
		line, ok := r.next()
		if !ok {
			return Frame{}, fmt.Errorf("read xyz: truncated frame, got %d of %d atoms", i, n)
		}
		atom, err := parseAtom(line)
		if err != nil {
			return Frame{}, fmt.Errorf("read xyz: line %d: %w", r.line, err)
		}
		frame.Atoms = append(frame.Atoms, atom)
	}
	return frame, nil
}

func parseAtom(line string) (ir.Atom, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return ir.Atom{}, fmt.Errorf("atom line %q needs element and three coordinates", line)
	}
	var coords [3]float64
	for i := range coords {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return ir.Atom{}, fmt.Errorf("coordinate %q: %w", fields[i+1], err)
		}
		coords[i] = v
	}
	return ir.Atom{Element: fields[0], X: coords[0], Y: coords[1], Z: coords[2]}, nil
}

// Frames iterates every frame in r.
func Frames(r io.Reader) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		xr := NewReader(r)
		for {
			f, err := xr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// Split partitions a frame's atoms into fragments of the given sizes.
// The sizes must add up to the frame's atom count.
func Split(atoms []ir.Atom, sizes []int) (ir.Geometry, error) {
	total := 0
	for i, n := range sizes {
		if n <= 0 {
			return nil, fmt.Errorf("fragment %d: size must be positive, got %d", i, n)
		}
		total += n
	}
	if total != len(atoms) {
		return nil, fmt.Errorf("fragment sizes %v cover %d atoms, frame has %d", sizes, total, len(atoms))
	}
	g := make(ir.Geometry, 0, len(sizes))
	start := 0
	for _, n := range sizes {
		frag := make(ir.Fragment, n)
		copy(frag, atoms[start:start+n])
		g = append(g, frag)
		start += n
	}
	return g, nil
}

// WriteFrame writes one frame. Coordinates use the shortest representation
// that round-trips, so a written frame reads back bit-identical.
func WriteFrame(w io.Writer, comment string, atoms []ir.Atom) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(atoms))
	bw.WriteString(strings.ReplaceAll(comment, "\n", " "))
	bw.WriteByte('\n')
	for _, a := range atoms {
		fmt.Fprintf(bw, "%-2s %s %s %s\n", a.Element, formatCoord(a.X), formatCoord(a.Y), formatCoord(a.Z))
	}
	return bw.Flush()
}

func formatCoord(v float64) string {
	if v == 0 {
		v = 0 // fold -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
