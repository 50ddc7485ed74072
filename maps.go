package pnps

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// geneMap assigns gene identifiers to annotation UIDs. One UID can
// map to several genes, in which case its counts contribute to each.
type geneMap map[uuid.UUID][]string

// taxonMap assigns a numeric taxon identifier to each annotation UID.
type taxonMap map[uuid.UUID]uint32

// lineageMap assigns a precomputed lineage string to each annotation
// UID, bypassing taxonomy lookups.
type lineageMap map[uuid.UUID]string

// eachMapLine reads a 2-column tab-separated map file and calls f
// once per usable line. Lines starting with "#", blank lines, and
// lines with fewer than two columns are skipped.
func eachMapLine(fnm string, f func(uid uuid.UUID, value string) error) error {
	in, err := open(fnm)
	if err != nil {
		return err
	}
	defer in.Close()
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
		uid, err := uuid.Parse(fields[0])
		if err != nil {
			return fmt.Errorf("%s line %d: cannot parse UID %q: %w", fnm, line, fields[0], err)
		}
		err = f(uid, strings.TrimSpace(fields[1]))
		if err != nil {
			return fmt.Errorf("%s line %d: %w", fnm, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return nil
}

func readGeneMap(fnm string) (geneMap, error) {
	gm := geneMap{}
	err := eachMapLine(fnm, func(uid uuid.UUID, value string) error {
		for _, g := range strings.Split(value, ",") {
			g = strings.TrimSpace(g)
			if g != "" {
				gm[uid] = append(gm[uid], g)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gm, nil
}

func readTaxonMap(fnm string) (taxonMap, error) {
	tm := taxonMap{}
	err := eachMapLine(fnm, func(uid uuid.UUID, value string) error {
		id, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("cannot parse taxon id %q: %w", value, err)
		}
		tm[uid] = uint32(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tm, nil
}

func readLineageMap(fnm string) (lineageMap, error) {
	lm := lineageMap{}
	err := eachMapLine(fnm, func(uid uuid.UUID, value string) error {
		lm[uid] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lm, nil
}
