package snps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// VCFRecord is one data line of a VCF file, restricted to the fields
// the classifier needs. Pos is 1-based as in the file.
type VCFRecord struct {
	Chrom string
	Pos   int
	Ref   string
	Alt   []string
	Qual  float64
	Depth uint32
	Indel bool

	genotypes []string
	samples   []string
}

// Call is one alternate-allele observation for a sample column.
type Call struct {
	Sample string
	Alt    string
}

// AlternateCalls returns one call per sample whose genotype references
// an alternate allele. Missing ('.') and reference-only genotypes
// contribute nothing; for genotypes naming several alternates the
// first one wins.
func (r *VCFRecord) AlternateCalls() []Call {
	var calls []Call
	for i, gt := range r.genotypes {
		idx := firstAltAllele(gt)
		if idx < 1 || idx > len(r.Alt) {
			continue
		}
		calls = append(calls, Call{Sample: r.samples[i], Alt: r.Alt[idx-1]})
	}
	return calls
}

func firstAltAllele(gt string) int {
	for _, f := range strings.FieldsFunc(gt, func(r rune) bool { return r == '/' || r == '|' }) {
		if n, err := strconv.Atoi(f); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// VCFReader streams records from a VCF file such as those produced by
// bcftools call.
type VCFReader struct {
	SampleNames []string

	sc   *bufio.Scanner
	line int
}

// NewVCFReader consumes the VCF header and positions the reader at the
// first record. The sample column names from the #CHROM line are kept
// in order.
func NewVCFReader(r io.Reader) (*VCFReader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<26)
	vr := &VCFReader{sc: sc}
	for sc.Scan() {
		vr.line++
		ln := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(ln, "##") {
			continue
		}
		if strings.HasPrefix(ln, "#CHROM") {
			fields := strings.Split(ln, "\t")
			if len(fields) > 9 {
				vr.SampleNames = fields[9:]
			}
			return vr, nil
		}
		return nil, fmt.Errorf("line %d: unexpected content before #CHROM header", vr.line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("missing #CHROM header line")
}

// Read returns the next record, or io.EOF at the end of the stream.
func (vr *VCFReader) Read() (*VCFRecord, error) {
	for vr.sc.Scan() {
		vr.line++
		ln := strings.TrimRight(vr.sc.Text(), "\r")
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		rec, err := vr.parse(ln)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", vr.line, err)
		}
		return rec, nil
	}
	if err := vr.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (vr *VCFReader) parse(ln string) (*VCFRecord, error) {
	fields := strings.Split(ln, "\t")
	if len(fields) < 8 {
		return nil, fmt.Errorf("expected at least 8 columns, got %d", len(fields))
	}
	pos, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("cannot parse POS %q: %v", fields[1], err)
	}
	rec := &VCFRecord{
		Chrom:   fields[0],
		Pos:     pos,
		Ref:     fields[3],
		samples: vr.SampleNames,
	}
	if fields[4] != "." && fields[4] != "" {
		rec.Alt = strings.Split(fields[4], ",")
	}
	if fields[5] != "." && fields[5] != "" {
		rec.Qual, err = strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse QUAL %q: %v", fields[5], err)
		}
	}
	for _, kv := range strings.Split(fields[7], ";") {
		switch {
		case kv == "INDEL":
			rec.Indel = true
		case strings.HasPrefix(kv, "DP="):
			dp, err := strconv.ParseUint(kv[3:], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("cannot parse INFO %q: %v", kv, err)
			}
			rec.Depth = uint32(dp)
		}
	}
	if len(fields) > 9 {
		gtIdx := -1
		for i, k := range strings.Split(fields[8], ":") {
			if k == "GT" {
				gtIdx = i
				break
			}
		}
		if gtIdx >= 0 {
			n := len(fields) - 9
			if n > len(vr.SampleNames) {
				n = len(vr.SampleNames)
			}
			rec.genotypes = make([]string, n)
			for i := 0; i < n; i++ {
				sub := strings.Split(fields[9+i], ":")
				if gtIdx < len(sub) {
					rec.genotypes[i] = sub[gtIdx]
				}
			}
		}
	}
	return rec, nil
}
