package refine

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Default RMSD position: fourth line from the end, third field.
const (
	DefaultLineFromEnd = 4
	DefaultField       = 2
)

// FieldIndex returns a Refiner.Field selecting field i.
func FieldIndex(i int) *int { return &i }

// FitParseError reports a fit log whose RMSD could not be read.
type FitParseError struct {
	Path   string
	Reason string
}

func (e *FitParseError) Error() string {
	return fmt.Sprintf("parse fit log %s: %s", e.Path, e.Reason)
}

// ParseRMSD reads the RMSD from whitespace-separated field `field` (0-based)
// of the line `lineFromEnd` lines from the end of the log (1 is the last
// line). Trailing blank lines count.
func ParseRMSD(path string, lineFromEnd, field int) (float64, error) {
	if lineFromEnd < 1 || field < 0 {
		return 0, &FitParseError{Path: path, Reason: fmt.Sprintf("invalid position line %d field %d", lineFromEnd, field)}
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, &FitParseError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	// Keep only the last lineFromEnd lines.
	ring := make([]string, lineFromEnd)
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		ring[count%lineFromEnd] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return 0, &FitParseError{Path: path, Reason: err.Error()}
	}
	if count < lineFromEnd {
		return 0, &FitParseError{Path: path, Reason: fmt.Sprintf("log has %d lines, need at least %d", count, lineFromEnd)}
	}

	line := ring[(count-lineFromEnd)%lineFromEnd]
	fields := strings.Fields(line)
	if field >= len(fields) {
		return 0, &FitParseError{Path: path, Reason: fmt.Sprintf("line %q has no field %d", line, field)}
	}
	v, err := strconv.ParseFloat(fields[field], 64)
	if err != nil {
		return 0, &FitParseError{Path: path, Reason: fmt.Sprintf("field %q is not a number", fields[field])}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, &FitParseError{Path: path, Reason: fmt.Sprintf("rmsd %v is not a finite non-negative number", v)}
	}
	return v, nil
}
