package pnps

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/frubino/pnps-utils/snps"
)

// statscmd summarizes an intermediate document: per-sample record
// counts, coverage, and the distribution of pN/pS values.
type statscmd struct{}

type sampleReport struct {
	Sample       string
	Records      int
	MeanCoverage float64
	MaxCoverage  uint32
	MeanPnPs     float64
	MedianPnPs   float64
}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "input `file` (from the parse command)")
	outputFilename := flags.String("o", "-", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *inputFilename == "" {
		fmt.Fprintln(stderr, "-i argument is required")
		return 2
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

	in, err := open(*inputFilename)
	if err != nil {
		return 1
	}
	doc, err := snps.ReadDocument(in)
	in.Close()
	if err != nil {
		return 1
	}

	err = cmd.doStats(doc, output)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func (cmd *statscmd) doStats(doc *snps.Document, output io.Writer) error {
	var ret struct {
		Samples     int
		Annotations int
		PerSample   []sampleReport
	}
	ret.Samples = len(doc.Samples)
	uidSet := map[string]bool{}
	for _, sample := range doc.Samples {
		rep := sampleReport{Sample: sample, Records: len(doc.PnPs[sample])}
		var covsum float64
		var values []float64
		for uid, p := range doc.PnPs[sample] {
			uidSet[uid.String()] = true
			covsum += float64(p.Coverage)
			if p.Coverage > rep.MaxCoverage {
				rep.MaxCoverage = p.Coverage
			}
			if v := p.PNPS(); !math.IsNaN(v) && !math.IsInf(v, 0) {
				values = append(values, v)
			}
		}
		if rep.Records > 0 {
			rep.MeanCoverage = covsum / float64(rep.Records)
		}
		if len(values) > 0 {
			sort.Float64s(values)
			rep.MeanPnPs = stat.Mean(values, nil)
			rep.MedianPnPs = stat.Quantile(0.5, stat.Empirical, values, nil)
		}
		ret.PerSample = append(ret.PerSample, rep)
	}
	ret.Annotations = len(uidSet)
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	return enc.Encode(ret)
}
