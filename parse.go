package pnps

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"

	"github.com/frubino/pnps-utils/gff"
	"github.com/frubino/pnps-utils/snps"
)

// parsecmd runs the classification phase: baseline expectations from
// the reference, per-sample coverage filtering, one pass over the VCF
// stream, and the intermediate JSON document at the end.
type parsecmd struct {
	configFile  string
	gffFile     string
	fastaFile   string
	minDepth    uint
	minCoverage uint
	minQual     float64
}

// sampleInfo is one line of the sample config file.
type sampleInfo struct {
	ID        string
	VCFColumn string
	DepthFile string
}

type expected struct {
	syn    float64
	nonsyn float64
}

func (cmd *parsecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.configFile, "config", "", "sample config `file` (see the config command)")
	flags.StringVar(&cmd.gffFile, "gff", "", "GFF `file` with CDS annotations")
	flags.StringVar(&cmd.fastaFile, "fasta", "", "reference fasta `file`")
	flags.UintVar(&cmd.minDepth, "min-depth", 4, "minimum variant depth (DP)")
	flags.UintVar(&cmd.minCoverage, "min-coverage", 4, "minimum read coverage over an annotation")
	flags.Float64Var(&cmd.minQual, "min-qual", 30, "minimum variant quality (QUAL)")
	outputFilename := flags.String("o", "pnps.json.gz", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.configFile == "" || cmd.gffFile == "" || cmd.fastaFile == "" {
		fmt.Fprintln(stderr, "-config, -gff and -fasta arguments are all required")
		return 2
	} else if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "expected exactly one VCF file argument")
		flags.Usage()
		return 2
	}
	vcfFile := flags.Arg(0)

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	log.Infof("minimum depth %d, qual %g, coverage %d", cmd.minDepth, cmd.minQual, cmd.minCoverage)

	annotations, err := cmd.readAnnotations()
	if err != nil {
		return 1
	}
	log.Infof("number of annotations: %d", len(annotations))
	infos, err := readSampleConfig(cmd.configFile)
	if err != nil {
		return 1
	}
	log.Infof("number of samples in config file: %d", len(infos))
	seqs, err := cmd.readFasta()
	if err != nil {
		return 1
	}
	log.Infof("number of fasta records: %d", len(seqs))

	baseline, err := cmd.computeBaseline(annotations, seqs)
	if err != nil {
		return 1
	}
	doc, err := cmd.initSamples(annotations, baseline, infos)
	if err != nil {
		return 1
	}
	err = cmd.classify(vcfFile, doc, seqs, annotations, infos)
	if err != nil {
		return 1
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
	var w io.Writer = bufw
	var gzw *pgzip.Writer
	if strings.HasSuffix(*outputFilename, ".gz") {
		gzw = pgzip.NewWriter(bufw)
		w = gzw
	}
	err = doc.Write(w)
	if err != nil {
		return 1
	}
	if gzw != nil {
		err = gzw.Close()
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

// readSampleConfig reads the 3-column tab-separated sample config
// file, preserving line order.
func readSampleConfig(fnm string) ([]sampleInfo, error) {
	in, err := open(fnm)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	var infos []sampleInfo
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		ln := strings.TrimSpace(sc.Text())
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		fields := strings.Split(ln, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s line %d: expected 3 columns, got %d", fnm, line, len(fields))
		}
		infos = append(infos, sampleInfo{ID: fields[0], VCFColumn: fields[1], DepthFile: fields[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return infos, nil
}

func (cmd *parsecmd) readAnnotations() ([]*gff.Annotation, error) {
	in, err := open(cmd.gffFile)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	anns, err := gff.ReadAnnotations(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.gffFile, err)
	}
	return anns, nil
}

func (cmd *parsecmd) readFasta() (map[string][]byte, error) {
	in, err := open(cmd.fastaFile)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	seqs := map[string][]byte{}
	t := linear.NewSeq("", nil, alphabet.DNA)
	sc := seqio.NewScanner(fasta.NewReader(in, t))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		seqs[s.Name()] = []byte(strings.ToUpper(s.Seq.String()))
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.fastaFile, err)
	}
	return seqs, nil
}

// computeBaseline computes the expected synonymous and nonsynonymous
// substitution opportunities for every annotation. An annotation
// whose reference sequence is missing aborts the run.
func (cmd *parsecmd) computeBaseline(annotations []*gff.Annotation, seqs map[string][]byte) (map[uuid.UUID]expected, error) {
	base := make(map[uuid.UUID]expected, len(annotations))
	for _, a := range annotations {
		seq, ok := seqs[a.SeqID]
		if !ok {
			return nil, fmt.Errorf("%s: cannot find sequence %q for annotation %s", cmd.fastaFile, a.SeqID, a.UID)
		}
		cds, err := snps.CodingSequence(seq, a.Start, a.End, a.Strand, a.Frame)
		if err != nil {
			return nil, fmt.Errorf("annotation %s on %s: %w", a.UID, a.SeqID, err)
		}
		syn, nonsyn := snps.ExpectedSubstitutions(cds)
		base[a.UID] = expected{syn: syn, nonsyn: nonsyn}
	}
	log.Infof("computed expected substitutions for %d annotations", len(base))
	return base, nil
}

// initSamples builds the per-sample counter tables, keeping only
// annotations whose coverage meets the threshold. Classification
// later mutates these records but never adds new ones.
func (cmd *parsecmd) initSamples(annotations []*gff.Annotation, base map[uuid.UUID]expected, infos []sampleInfo) (*snps.Document, error) {
	doc := &snps.Document{PnPs: make(map[string]map[uuid.UUID]*snps.PnPs, len(infos))}
	for _, si := range infos {
		log.Infof("reading depth information for sample %s from file %s", si.ID, si.DepthFile)
		in, err := open(si.DepthFile)
		if err != nil {
			return nil, err
		}
		dm, err := snps.ReadDepth(in)
		in.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", si.DepthFile, err)
		}
		sp := map[uuid.UUID]*snps.PnPs{}
		for _, a := range annotations {
			exp, ok := base[a.UID]
			if !ok {
				continue
			}
			var cov uint32
			if ds, ok := dm[a.SeqID]; ok {
				cov = ds.CoverageAt(a.Start, a.End)
			}
			if cov < uint32(cmd.minCoverage) {
				continue
			}
			sp[a.UID] = &snps.PnPs{UID: a.UID, ExpSyn: exp.syn, ExpNonSyn: exp.nonsyn, Coverage: cov}
		}
		if len(sp) == 0 {
			log.Warnf("sample %s: no annotation passes the coverage filter", si.ID)
		} else {
			var max *snps.PnPs
			for _, p := range sp {
				if max == nil || p.Coverage > max.Coverage {
					max = p
				}
			}
			log.Infof("sample %s: max coverage %d in annotation %s", si.ID, max.Coverage, max.UID)
		}
		doc.Samples = append(doc.Samples, si.ID)
		doc.PnPs[si.ID] = sp
	}
	return doc, nil
}

// classify makes a single forward pass over the VCF stream,
// incrementing syn/nonsyn counters for every call that survives the
// depth, quality and indel filters and the coverage-filtered table.
// computeBaseline has already checked that every annotation has
// sequence data, so the missing-sequence path below only logs and
// skips in case seqs and annotations ever come from different
// sources.
func (cmd *parsecmd) classify(vcfFile string, doc *snps.Document, seqs map[string][]byte, annotations []*gff.Annotation, infos []sampleInfo) error {
	index, err := gff.NewIndex(annotations)
	if err != nil {
		return err
	}
	byColumn := make(map[string]string, len(infos))
	for _, si := range infos {
		byColumn[si.VCFColumn] = si.ID
	}

	in, err := open(vcfFile)
	if err != nil {
		return err
	}
	defer in.Close()
	rdr, err := snps.NewVCFReader(in)
	if err != nil {
		return fmt.Errorf("%s: %w", vcfFile, err)
	}
	log.Infof("number of VCF samples: %d", len(rdr.SampleNames))

	var count, skippedDepth, skippedQual, skippedIndel uint64
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("%s: %w", vcfFile, err)
		}
		count++
		if rec.Depth < uint32(cmd.minDepth) {
			skippedDepth++
			continue
		} else if rec.Qual < cmd.minQual {
			skippedQual++
			continue
		} else if rec.Indel || len(rec.Ref) > 1 {
			skippedIndel++
			continue
		}
		for _, a := range index.At(rec.Chrom, rec.Pos-1) {
			seq, ok := seqs[a.SeqID]
			if !ok {
				log.Warnf("%s:%d: no sequence data for %q, skipping annotation %s", rec.Chrom, rec.Pos, a.SeqID, a.UID)
				continue
			}
			for _, call := range rec.AlternateCalls() {
				sample, ok := byColumn[call.Sample]
				if !ok {
					log.Errorf("cannot find the sample %s", call.Sample)
					continue
				}
				p, ok := doc.PnPs[sample][a.UID]
				if !ok {
					continue
				}
				if len(call.Alt) != 1 {
					log.Warnf("%s:%d sample %s: cannot classify multi-base alternate %q", rec.Chrom, rec.Pos, sample, call.Alt)
					continue
				}
				syn, err := snps.IsSynonymous(seq, a.Start, a.End, a.Strand, a.Frame, rec.Pos-1, call.Alt[0])
				if err != nil {
					log.Warnf("%s:%d sample %s annotation %s: %v", rec.Chrom, rec.Pos, sample, a.UID, err)
					continue
				}
				if syn {
					p.Syn++
				} else {
					p.NonSyn++
				}
			}
		}
	}
	pctLowDepth := 0.0
	if count > 0 {
		pctLowDepth = float64(skippedDepth) / float64(count) * 100
	}
	log.Infof("VCF records %d, skipped indel: %d, skipped for low qual: %d, skipped for low depth (DP): %.2f%%",
		count, skippedIndel, skippedQual, pctLowDepth)
	return nil
}
