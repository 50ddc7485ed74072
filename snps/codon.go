package snps

import "fmt"

// codonTable is the standard genetic code. Stop codons translate to
// '*'.
var codonTable = map[string]byte{
	"TTT": 'F', "TTC": 'F', "TTA": 'L', "TTG": 'L',
	"CTT": 'L', "CTC": 'L', "CTA": 'L', "CTG": 'L',
	"ATT": 'I', "ATC": 'I', "ATA": 'I', "ATG": 'M',
	"GTT": 'V', "GTC": 'V', "GTA": 'V', "GTG": 'V',
	"TCT": 'S', "TCC": 'S', "TCA": 'S', "TCG": 'S',
	"CCT": 'P', "CCC": 'P', "CCA": 'P', "CCG": 'P',
	"ACT": 'T', "ACC": 'T', "ACA": 'T', "ACG": 'T',
	"GCT": 'A', "GCC": 'A', "GCA": 'A', "GCG": 'A',
	"TAT": 'Y', "TAC": 'Y', "TAA": '*', "TAG": '*',
	"CAT": 'H', "CAC": 'H', "CAA": 'Q', "CAG": 'Q',
	"AAT": 'N', "AAC": 'N', "AAA": 'K', "AAG": 'K',
	"GAT": 'D', "GAC": 'D', "GAA": 'E', "GAG": 'E',
	"TGT": 'C', "TGC": 'C', "TGA": '*', "TGG": 'W',
	"CGT": 'R', "CGC": 'R', "CGA": 'R', "CGG": 'R',
	"AGT": 'S', "AGC": 'S', "AGA": 'R', "AGG": 'R',
	"GGT": 'G', "GGC": 'G', "GGA": 'G', "GGG": 'G',
}

var bases = [4]byte{'A', 'C', 'G', 'T'}

func translate(codon []byte) (byte, bool) {
	aa, ok := codonTable[string(codon)]
	return aa, ok
}

func validBase(b byte) bool {
	return b == 'A' || b == 'C' || b == 'G' || b == 'T'
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func complement(b byte) byte {
	switch b {
	case 'A':
		return 'T'
	case 'T':
		return 'A'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	default:
		return 'N'
	}
}

// ReverseComplement returns the reverse complement of seq as a new
// slice.
func ReverseComplement(seq []byte) []byte {
	rc := make([]byte, len(seq))
	for i, b := range seq {
		rc[len(seq)-1-i] = complement(upper(b))
	}
	return rc
}

// CodingSequence returns the strand-oriented coding sequence for a
// region in 0-based half-open coordinates, with the frame offset
// removed.
func CodingSequence(seq []byte, start, end int, strand int8, frame int) ([]byte, error) {
	if start < 0 || end > len(seq) || start >= end {
		return nil, fmt.Errorf("coding region [%d,%d) outside sequence of length %d", start, end, len(seq))
	}
	var cds []byte
	if strand < 0 {
		cds = ReverseComplement(seq[start:end])
	} else {
		cds = append(cds, seq[start:end]...)
	}
	if frame >= len(cds) {
		return nil, fmt.Errorf("frame %d leaves no coding sequence in [%d,%d)", frame, start, end)
	}
	return cds[frame:], nil
}

// ExpectedSubstitutions computes the synonymous and nonsynonymous
// substitution opportunity counts for a coding sequence: every codon
// position contributes the fraction of its three possible
// substitutions that leave the encoded amino acid unchanged to the
// synonymous count and the rest to the nonsynonymous count. Codons
// containing ambiguous bases and any trailing partial codon are
// skipped.
func ExpectedSubstitutions(cds []byte) (expSyn, expNonSyn float64) {
	var codon [3]byte
	for i := 0; i+3 <= len(cds); i += 3 {
		copy(codon[:], cds[i:i+3])
		aa, ok := translate(codon[:])
		if !ok {
			continue
		}
		for p := 0; p < 3; p++ {
			orig := codon[p]
			syn := 0
			for _, b := range bases {
				if b == orig {
					continue
				}
				codon[p] = b
				if alt, ok := translate(codon[:]); ok && alt == aa {
					syn++
				}
			}
			codon[p] = orig
			expSyn += float64(syn) / 3
			expNonSyn += float64(3-syn) / 3
		}
	}
	return expSyn, expNonSyn
}

// IsSynonymous reports whether substituting alt at the 0-based
// genomic position pos changes the amino acid encoded by the codon
// covering that position. The coding region is described by start,
// end, strand and frame as in CodingSequence; seq is the full
// reference sequence the region lies on.
func IsSynonymous(seq []byte, start, end int, strand int8, frame, pos int, alt byte) (bool, error) {
	if pos < start || pos >= end {
		return false, fmt.Errorf("position %d outside coding region [%d,%d)", pos, start, end)
	}
	if end > len(seq) {
		return false, fmt.Errorf("coding region [%d,%d) beyond sequence of length %d", start, end, len(seq))
	}
	alt = upper(alt)
	if !validBase(alt) {
		return false, fmt.Errorf("position %d: invalid alternate allele %q", pos, string(alt))
	}
	var codon [3]byte
	var off int
	if strand >= 0 {
		rel := pos - (start + frame)
		if rel < 0 {
			return false, fmt.Errorf("position %d inside incomplete leading codon", pos)
		}
		cstart := start + frame + rel/3*3
		if cstart+3 > end {
			return false, fmt.Errorf("position %d inside incomplete trailing codon", pos)
		}
		copy(codon[:], seq[cstart:cstart+3])
		off = rel % 3
	} else {
		rel := (end - frame - 1) - pos
		if rel < 0 {
			return false, fmt.Errorf("position %d inside incomplete leading codon", pos)
		}
		cfirst := end - frame - 1 - rel/3*3
		if cfirst-2 < start {
			return false, fmt.Errorf("position %d inside incomplete trailing codon", pos)
		}
		codon[0] = complement(upper(seq[cfirst]))
		codon[1] = complement(upper(seq[cfirst-1]))
		codon[2] = complement(upper(seq[cfirst-2]))
		off = rel % 3
		alt = complement(alt)
	}
	ref, ok := translate(codon[:])
	if !ok {
		return false, fmt.Errorf("position %d: cannot translate codon %q", pos, string(codon[:]))
	}
	codon[off] = alt
	mut, ok := translate(codon[:])
	if !ok {
		return false, fmt.Errorf("position %d: cannot translate codon %q", pos, string(codon[:]))
	}
	return mut == ref, nil
}
