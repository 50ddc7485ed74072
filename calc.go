package pnps

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"

	"github.com/frubino/pnps-utils/snps"
)

// calccmd turns the intermediate document produced by the parse
// command into a CSV matrix of per-annotation or per-group values,
// one column per sample.
type calccmd struct {
	geneMapFile    string
	taxonomyFile   string
	taxonMapFile   string
	lineageMapFile string
	taxonRank      string
	outputPN       bool
	outputPS       bool
	numpyFilename  string
}

type resultType int

const (
	resultPNPS resultType = iota
	resultPN
	resultPS
)

func (rt resultType) value(p *snps.PnPs) float64 {
	switch rt {
	case resultPN:
		return p.PN()
	case resultPS:
		return p.PS()
	default:
		return p.PNPS()
	}
}

func (rt resultType) groupValue(g *snps.GroupPnPs) float64 {
	switch rt {
	case resultPN:
		return g.PN()
	case resultPS:
		return g.PS()
	default:
		return g.PNPS()
	}
}

func (cmd *calccmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.geneMapFile, "gene-map", "", "tab-separated `file` mapping annotation UIDs to gene ids")
	flags.StringVar(&cmd.taxonomyFile, "taxonomy", "", "tab-separated `file` mapping taxon ids to lineage strings")
	flags.StringVar(&cmd.taxonMapFile, "taxon-map", "", "tab-separated `file` mapping annotation UIDs to taxon ids")
	flags.StringVar(&cmd.lineageMapFile, "lineage-map", "", "tab-separated `file` mapping annotation UIDs to lineage strings")
	flags.StringVar(&cmd.taxonRank, "taxon-rank", "", "taxon `rank` to aggregate lineages at")
	flags.BoolVar(&cmd.outputPN, "output-pn", false, "output pN values instead of pN/pS")
	flags.BoolVar(&cmd.outputPS, "output-ps", false, "output pS values instead of pN/pS")
	flags.StringVar(&cmd.numpyFilename, "output-numpy", "", "also write the value matrix to a numpy `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "expected exactly one input file argument")
		flags.Usage()
		return 2
	} else if cmd.outputPN && cmd.outputPS {
		fmt.Fprintln(stderr, "-output-pn and -output-ps are mutually exclusive")
		return 2
	} else if cmd.taxonMapFile != "" && cmd.lineageMapFile != "" {
		fmt.Fprintln(stderr, "-taxon-map and -lineage-map are mutually exclusive")
		return 2
	} else if cmd.taxonMapFile != "" && cmd.taxonomyFile == "" {
		fmt.Fprintln(stderr, "-taxon-map requires -taxonomy")
		return 2
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	if cmd.taxonRank != "" {
		log.Warnf("-taxon-rank %q: rank aggregation is not implemented, using full lineages", cmd.taxonRank)
	}

	rt := resultPNPS
	if cmd.outputPN {
		rt = resultPN
	} else if cmd.outputPS {
		rt = resultPS
	}

	in, err := open(flags.Arg(0))
	if err != nil {
		return 1
	}
	doc, err := snps.ReadDocument(in)
	in.Close()
	if err != nil {
		return 1
	}
	log.Infof("number of samples: %d", len(doc.Samples))

	var gm geneMap
	if cmd.geneMapFile != "" {
		gm, err = readGeneMap(cmd.geneMapFile)
		if err != nil {
			return 1
		}
		log.Infof("number of gene map entries: %d", len(gm))
	}
	var tm taxonMap
	if cmd.taxonMapFile != "" {
		tm, err = readTaxonMap(cmd.taxonMapFile)
		if err != nil {
			return 1
		}
		log.Infof("number of taxon map entries: %d", len(tm))
	}
	var lm lineageMap
	if cmd.lineageMapFile != "" {
		lm, err = readLineageMap(cmd.lineageMapFile)
		if err != nil {
			return 1
		}
		log.Infof("number of lineage map entries: %d", len(lm))
	}
	var taxonomy Taxonomy = emptyTaxonomy{}
	if cmd.taxonomyFile != "" {
		taxonomy, err = readTaxonomy(cmd.taxonomyFile)
		if err != nil {
			return 1
		}
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)

	var header []string
	var labels [][]string
	var matrix [][]float64
	if len(gm) == 0 && len(tm) == 0 && len(lm) == 0 {
		header, labels, matrix = perAnnotationTable(doc, rt)
	} else {
		header, labels, matrix, err = groupedTable(doc, gm, tm, lm, taxonomy, rt)
		if err != nil {
			return 1
		}
	}

	cw := csv.NewWriter(bufw)
	err = cw.Write(append(header, doc.Samples...))
	if err != nil {
		return 1
	}
	written := 0
	for i, row := range matrix {
		if !anyNormal(row) {
			continue
		}
		rec := append([]string(nil), labels[i]...)
		for _, v := range row {
			rec = append(rec, formatFloat(v))
		}
		err = cw.Write(rec)
		if err != nil {
			return 1
		}
		written++
	}
	cw.Flush()
	err = cw.Error()
	if err != nil {
		return 1
	}
	log.Infof("wrote %d rows out of %d", written, len(matrix))

	if cmd.numpyFilename != "" {
		err = cmd.writeNumpy(matrix, len(doc.Samples))
		if err != nil {
			return 1
		}
	}

	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

// perAnnotationTable builds one row per annotation UID, sorted by the
// UID's string form, with NaN for samples that do not carry the
// annotation.
func perAnnotationTable(doc *snps.Document, rt resultType) (header []string, labels [][]string, matrix [][]float64) {
	uidSet := map[uuid.UUID]bool{}
	for _, sp := range doc.PnPs {
		for uid := range sp {
			uidSet[uid] = true
		}
	}
	uids := make([]uuid.UUID, 0, len(uidSet))
	for uid := range uidSet {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i].String() < uids[j].String() })

	header = []string{"uid"}
	for _, uid := range uids {
		row := make([]float64, len(doc.Samples))
		for i, sample := range doc.Samples {
			if p, ok := doc.PnPs[sample][uid]; ok {
				row[i] = rt.value(p)
			} else {
				row[i] = math.NaN()
			}
		}
		labels = append(labels, []string{uid.String()})
		matrix = append(matrix, row)
	}
	return
}

// groupKey identifies one output row of a grouped table.
type groupKey struct {
	GeneID  string
	TaxonID uint32
	Lineage string
}

// groupedTable pools the counters of all annotations sharing a group
// key, once per sample, and emits one row per key. An annotation
// mapped to several genes contributes to each of them.
func groupedTable(doc *snps.Document, gm geneMap, tm taxonMap, lm lineageMap, taxonomy Taxonomy, rt resultType) (header []string, labels [][]string, matrix [][]float64, err error) {
	groups := map[groupKey]map[string]*snps.GroupPnPs{}
	for sample, sp := range doc.PnPs {
		for uid, p := range sp {
			genes := gm[uid]
			if len(genes) == 0 {
				// no mapping: the UID is its own gene
				genes = []string{uid.String()}
			}
			key := groupKey{TaxonID: tm[uid], Lineage: lm[uid]}
			for _, gene := range genes {
				key.GeneID = gene
				bySample, ok := groups[key]
				if !ok {
					bySample = map[string]*snps.GroupPnPs{}
					groups[key] = bySample
				}
				g, ok := bySample[sample]
				if !ok {
					g = &snps.GroupPnPs{GeneID: key.GeneID, TaxonID: key.TaxonID, Lineage: key.Lineage}
					bySample[sample] = g
				}
				g.Records = append(g.Records, p)
			}
		}
	}
	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].GeneID != keys[j].GeneID {
			return keys[i].GeneID < keys[j].GeneID
		}
		if keys[i].TaxonID != keys[j].TaxonID {
			return keys[i].TaxonID < keys[j].TaxonID
		}
		return keys[i].Lineage < keys[j].Lineage
	})

	header = []string{"gene_id", "taxon", "lineage"}
	for _, key := range keys {
		lineage := key.Lineage
		if lineage == "" {
			lineage, err = taxonomy.LineageString(key.TaxonID)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		row := make([]float64, len(doc.Samples))
		for i, sample := range doc.Samples {
			if g, ok := groups[key][sample]; ok {
				row[i] = rt.groupValue(g)
			} else {
				row[i] = math.NaN()
			}
		}
		labels = append(labels, []string{key.GeneID, strconv.FormatUint(uint64(key.TaxonID), 10), lineage})
		matrix = append(matrix, row)
	}
	return
}

func (cmd *calccmd) writeNumpy(matrix [][]float64, cols int) error {
	output, err := os.OpenFile(cmd.numpyFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	flat := make([]float64, 0, len(matrix)*cols)
	rows := 0
	for _, row := range matrix {
		if !anyNormal(row) {
			continue
		}
		flat = append(flat, row...)
		rows++
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(flat)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// isNormal reports whether v is a normal floating point number, i.e.
// not zero, subnormal, infinite, or NaN.
func isNormal(v float64) bool {
	exp := math.Float64bits(v) >> 52 & 0x7ff
	return exp != 0 && exp != 0x7ff
}

// anyNormal reports whether at least one element of row is a normal
// floating point number. Rows that are all zero, NaN, or infinite
// carry no usable signal and are dropped from the output.
func anyNormal(row []float64) bool {
	for _, v := range row {
		if isNormal(v) {
			return true
		}
	}
	return false
}
