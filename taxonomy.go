package pnps

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Taxonomy resolves numeric taxon identifiers to lineage strings.
type Taxonomy interface {
	LineageString(id uint32) (string, error)
}

// emptyTaxonomy resolves only the unassigned taxon. It is used when
// no taxonomy file is given.
type emptyTaxonomy struct{}

func (emptyTaxonomy) LineageString(id uint32) (string, error) {
	if id == 0 {
		return "", nil
	}
	return "", fmt.Errorf("cannot build lineage string for taxon %d: no taxonomy loaded", id)
}

// tsvTaxonomy resolves taxon identifiers from a 2-column
// tab-separated file of id and lineage string.
type tsvTaxonomy map[uint32]string

func (t tsvTaxonomy) LineageString(id uint32) (string, error) {
	if id == 0 {
		return "", nil
	}
	lineage, ok := t[id]
	if !ok {
		return "", fmt.Errorf("cannot build lineage string for taxon %d", id)
	}
	return lineage, nil
}

func readTaxonomy(fnm string) (Taxonomy, error) {
	in, err := open(fnm)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	t := tsvTaxonomy{}
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		ln := strings.TrimSpace(sc.Text())
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		fields := strings.SplitN(ln, "\t", 2)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: cannot parse taxon id %q: %w", fnm, line, fields[0], err)
		}
		t[uint32(id)] = strings.TrimSpace(fields[1])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return t, nil
}
