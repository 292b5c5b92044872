package calc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// energyToken marks the line carrying the total energy.
const energyToken = "energy="

// ParseEnergy scans program output for the last energy= value.
//
// Both "energy= -76.02" and "energy=-76.02" are accepted. Any line containing
// ERROR (case-insensitive) fails the parse with ErrOutputError, even after an
// energy was seen.
func ParseEnergy(r io.Reader) (float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		energy float64
		found  bool
	)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(strings.ToUpper(line), "ERROR") {
			return 0, fmt.Errorf("%w: %s", ErrOutputError, strings.TrimSpace(line))
		}
		idx := strings.LastIndex(line, energyToken)
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len(energyToken):])
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, fmt.Errorf("parse energy %q: %w", fields[0], err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("parse energy %q: not finite", fields[0])
		}
		energy, found = v, true
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read output: %w", err)
	}
	if !found {
		return 0, ErrEnergyNotFound
	}
	return energy, nil
}
