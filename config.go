package pnps

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/frubino/pnps-utils/snps"
)

// configcmd generates the sample config file consumed by parse: one
// tab-separated line per sample mapping the display id and depth file
// to a VCF sample column.
type configcmd struct{}

func (cmd *configcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	vcfFile := flags.String("vcf", "", "VCF `file` providing the sample columns")
	outputFilename := flags.String("o", "-", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *vcfFile == "" {
		fmt.Fprintln(stderr, "cannot generate a config without -vcf argument")
		return 2
	} else if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "no depth files given")
		flags.Usage()
		return 2
	}
	depthFiles := flags.Args()

	in, err := open(*vcfFile)
	if err != nil {
		return 1
	}
	defer in.Close()
	rdr, err := snps.NewVCFReader(in)
	if err != nil {
		err = fmt.Errorf("%s: %w", *vcfFile, err)
		return 1
	}
	samples := rdr.SampleNames
	if len(depthFiles) != len(samples) {
		err = fmt.Errorf("number of samples (%d) in VCF file and number of depth files (%d) differ", len(samples), len(depthFiles))
		return 1
	}
	log.Infof("writing config for %d samples", len(samples))

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
	fmt.Fprintln(bufw, "#Rearrange to make files and columns correspond")
	fmt.Fprintln(bufw, "#SAMPLE_ID\tVCF_COLUMN\tDEPTH_FILE")
	for i, column := range samples {
		fmt.Fprintf(bufw, "%s\t%s\t%s\n", sampleID(column), column, depthFiles[i])
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

// sampleID derives a display id from a VCF sample column, typically a
// BAM file path: the basename with one extension removed.
func sampleID(column string) string {
	base := filepath.Base(column)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
