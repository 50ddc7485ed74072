// Package gff loads CDS annotations and answers position-containment
// queries against them. Annotations use 0-based half-open genomic
// coordinates and are keyed by the uid attribute carried in their GFF
// record.
package gff

import (
	"fmt"
	"io"
	"strings"

	biogff "github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"
	"github.com/biogo/store/interval"
	"github.com/google/uuid"
)

// Annotation is one coding-region annotation.
type Annotation struct {
	UID     uuid.UUID
	SeqID   string
	Start   int // 0-based
	End     int // exclusive
	Strand  int8
	Frame   int // leading bases before the first complete codon
	Feature string

	id uintptr
}

func (a *Annotation) Len() int { return a.End - a.Start }

// Contains reports whether the 0-based position lies inside the
// annotation interval.
func (a *Annotation) Contains(pos int) bool { return pos >= a.Start && pos < a.End }

func (a *Annotation) Overlap(b interval.IntRange) bool { return a.End > b.Start && a.Start < b.End }
func (a *Annotation) ID() uintptr                      { return a.id }
func (a *Annotation) Range() interval.IntRange {
	return interval.IntRange{Start: a.Start, End: a.End}
}

// ReadAnnotations reads GFF records, keeping only CDS features. The
// uid attribute of every kept record must be a valid UUID.
func ReadAnnotations(r io.Reader) ([]*Annotation, error) {
	var anns []*Annotation
	rdr := biogff.NewReader(r)
	n := 0
	for {
		f, err := rdr.Read()
		if err == io.EOF {
			return anns, nil
		} else if err != nil {
			return nil, fmt.Errorf("record %d: %w", n+1, err)
		}
		n++
		gf, ok := f.(*biogff.Feature)
		if !ok {
			continue
		}
		if gf.Feature != "CDS" {
			continue
		}
		uidAttr := strings.Trim(gf.FeatAttributes.Get("uid"), `"`)
		if uidAttr == "" {
			return nil, fmt.Errorf("record %d (%s): missing uid attribute", n, gf.SeqName)
		}
		uid, err := uuid.Parse(uidAttr)
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): cannot parse uid %q: %v", n, gf.SeqName, uidAttr, err)
		}
		strand := int8(1)
		if gf.FeatStrand == seq.Minus {
			strand = -1
		}
		frame := int(gf.FeatFrame)
		if frame < 0 {
			frame = 0
		}
		anns = append(anns, &Annotation{
			UID:     uid,
			SeqID:   gf.SeqName,
			Start:   gf.FeatStart,
			End:     gf.FeatEnd,
			Strand:  strand,
			Frame:   frame,
			Feature: gf.Feature,
		})
	}
}

// Index maps each reference sequence id to an interval tree over the
// annotations on it.
type Index map[string]*interval.IntTree

// NewIndex builds an Index over the given annotations. Overlapping and
// opposite-strand annotations on the same sequence are all kept.
func NewIndex(anns []*Annotation) (Index, error) {
	ix := Index{}
	for i, a := range anns {
		a.id = uintptr(i)
		t, ok := ix[a.SeqID]
		if !ok {
			t = &interval.IntTree{}
			ix[a.SeqID] = t
		}
		if err := t.Insert(a, true); err != nil {
			return nil, fmt.Errorf("annotation %s [%d,%d): %v", a.UID, a.Start, a.End, err)
		}
	}
	for _, t := range ix {
		t.AdjustRanges()
	}
	return ix, nil
}

// At returns every annotation on seqID whose interval contains the
// 0-based position. A position inside overlapping annotations returns
// all of them.
func (ix Index) At(seqID string, pos int) []*Annotation {
	t, ok := ix[seqID]
	if !ok {
		return nil
	}
	var anns []*Annotation
	t.DoMatching(func(iv interval.IntInterface) (done bool) {
		anns = append(anns, iv.(*Annotation))
		return
	}, pointQuery(pos))
	return anns
}

type pointQuery int

func (q pointQuery) Overlap(b interval.IntRange) bool {
	return int(q) >= b.Start && int(q) < b.End
}
