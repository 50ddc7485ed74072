package snps

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DepthMap holds per-position read depth for each reference sequence,
// as produced by samtools depth.
type DepthMap map[string]Depths

// Depths maps 0-based positions to read depth.
type Depths map[int]uint32

// CoverageAt returns the mean depth over the half-open interval
// [start,end), truncated to an integer. Positions missing from the
// depth file count as zero.
func (d Depths) CoverageAt(start, end int) uint32 {
	if end <= start {
		return 0
	}
	var total uint64
	for pos := start; pos < end; pos++ {
		total += uint64(d[pos])
	}
	return uint32(total / uint64(end-start))
}

// ReadDepth parses samtools depth output: one tab-separated line per
// position with sequence id, 1-based position and depth. Comment and
// blank lines are skipped.
func ReadDepth(r io.Reader) (DepthMap, error) {
	dm := DepthMap{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)
	line := 0
	for sc.Scan() {
		line++
		ln := strings.TrimSpace(sc.Text())
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		fields := strings.Split(ln, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 columns, got %d", line, len(fields))
		}
		pos, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: cannot parse position %q: %v", line, fields[1], err)
		}
		depth, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: cannot parse depth %q: %v", line, fields[2], err)
		}
		ds, ok := dm[fields[0]]
		if !ok {
			ds = Depths{}
			dm[fields[0]] = ds
		}
		ds[pos-1] = uint32(depth)
	}
	return dm, sc.Err()
}
