// Package snps implements the pN/pS counter model: expected
// substitution opportunities from codon degeneracy, classification of
// observed substitutions against their reference codon, and the
// per-sample accumulation structures shared by the parse and calc
// phases.
package snps

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
)

// PnPs accumulates observed and expected substitution counts for one
// annotation in one sample. ExpSyn, ExpNonSyn and Coverage are set
// once when the record is created; Syn and NonSyn only ever grow
// during classification.
type PnPs struct {
	UID       uuid.UUID `json:"uid"`
	ExpSyn    float64   `json:"exp_syn"`
	ExpNonSyn float64   `json:"exp_nonsyn"`
	Syn       uint32    `json:"syn"`
	NonSyn    uint32    `json:"nonsyn"`
	Coverage  uint32    `json:"coverage"`
}

// PN is the observed nonsynonymous count over the expected
// nonsynonymous opportunities. Zero expectations propagate through
// IEEE division (0/0 is NaN, n/0 is Inf).
func (p *PnPs) PN() float64 { return float64(p.NonSyn) / p.ExpNonSyn }

// PS is the observed synonymous count over the expected synonymous
// opportunities.
func (p *PnPs) PS() float64 { return float64(p.Syn) / p.ExpSyn }

// PNPS is the ratio of PN over PS.
func (p *PnPs) PNPS() float64 { return p.PN() / p.PS() }

// GroupPnPs collects the records fanning into one (gene, taxon,
// lineage) group for a sample. Records are shared with the per-UID
// table, never copied, so group membership cannot double-count an
// underlying record.
type GroupPnPs struct {
	GeneID  string
	TaxonID uint32
	Lineage string
	Records []*PnPs
}

// PN pools raw counts across member records before dividing, so each
// member weighs in proportion to its expected opportunities. A group
// with a single member yields exactly the member's own value.
func (g *GroupPnPs) PN() float64 {
	var obs, exp float64
	for _, p := range g.Records {
		obs += float64(p.NonSyn)
		exp += p.ExpNonSyn
	}
	return obs / exp
}

// PS pools raw synonymous counts, like PN.
func (g *GroupPnPs) PS() float64 {
	var obs, exp float64
	for _, p := range g.Records {
		obs += float64(p.Syn)
		exp += p.ExpSyn
	}
	return obs / exp
}

// PNPS is the ratio of the pooled PN over the pooled PS.
func (g *GroupPnPs) PNPS() float64 { return g.PN() / g.PS() }

// Document is the intermediate artifact written by parse and consumed
// by calc: every per-sample counter table plus the sample column
// order.
type Document struct {
	Samples []string                       `json:"samples"`
	PnPs    map[string]map[uuid.UUID]*PnPs `json:"pnps"`
}

// Write serializes the document as JSON.
func (d *Document) Write(w io.Writer) error {
	return json.NewEncoder(w).Encode(d)
}

// ReadDocument decodes a document written by Write. Documents lacking
// an explicit sample order get the samples in sorted order.
func ReadDocument(r io.Reader) (*Document, error) {
	doc := &Document{}
	if err := json.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode pnps document: %w", err)
	}
	if doc.PnPs == nil {
		doc.PnPs = map[string]map[uuid.UUID]*PnPs{}
	}
	if len(doc.Samples) == 0 && len(doc.PnPs) > 0 {
		for sample := range doc.PnPs {
			doc.Samples = append(doc.Samples, sample)
		}
		sort.Strings(doc.Samples)
	}
	return doc, nil
}
