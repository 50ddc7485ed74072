package pnps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"

	"github.com/frubino/pnps-utils/snps"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

const (
	uidA = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	uidB = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
)

// writeDataset writes a small reference with two glycine-codon CDS
// regions, a VCF with two samples, and matching depth files. Sample A
// carries two synonymous and four nonsynonymous substitutions in the
// first region at depth 20; sample B has no variant calls and depth 1
// everywhere.
func writeDataset(c *check.C) (dir string) {
	dir = c.MkDir()
	seq := strings.Repeat("GGT", 20)
	write := func(name, content string) {
		c.Assert(os.WriteFile(filepath.Join(dir, name), []byte(content), 0666), check.IsNil)
	}
	write("ref.fasta", ">ctg1\n"+seq+"\n")
	write("ann.gff", `##gff-version 2
ctg1	prodigal	CDS	1	30	.	+	0	uid "`+uidA+`"
ctg1	prodigal	CDS	31	60	.	+	0	uid "`+uidB+`"
`)
	vcf := `##fileformat=VCFv4.2
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	sampleA.bam	sampleB.bam
ctg1	1	.	G	A	50	.	DP=20	GT	1/1	0/0
ctg1	3	.	T	A	50	.	DP=20	GT	1/1	0/0
ctg1	4	.	G	A	50	.	DP=20	GT	1/1	0/0
ctg1	6	.	T	A	50	.	DP=20	GT	1/1	0/0
ctg1	7	.	G	A	50	.	DP=20	GT	1/1	0/0
ctg1	10	.	G	A	50	.	DP=20	GT	1/1	0/0
ctg1	13	.	G	A	50	.	DP=1	GT	1/1	0/0
ctg1	16	.	G	A	2	.	DP=20	GT	1/1	0/0
ctg1	19	.	G	GA	50	.	INDEL;DP=20	GT	1/1	0/0
ctg1	22	.	GT	G	50	.	DP=20	GT	1/1	0/0
`
	write("input.vcf", vcf)
	var depthA, depthB strings.Builder
	for pos := 1; pos <= len(seq); pos++ {
		fmt.Fprintf(&depthA, "ctg1\t%d\t20\n", pos)
		fmt.Fprintf(&depthB, "ctg1\t%d\t1\n", pos)
	}
	write("sampleA.depth", depthA.String())
	write("sampleB.depth", depthB.String())
	return dir
}

func (s *pipelineSuite) runParse(c *check.C, dir string) string {
	cfg := filepath.Join(dir, "samples.tsv")
	var stdout bytes.Buffer
	exited := (&configcmd{}).RunCommand("config", []string{
		"-vcf", filepath.Join(dir, "input.vcf"),
		"-o", cfg,
		filepath.Join(dir, "sampleA.depth"),
		filepath.Join(dir, "sampleB.depth"),
	}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	out := filepath.Join(dir, "pnps.json.gz")
	exited = (&parsecmd{}).RunCommand("parse", []string{
		"-config", cfg,
		"-gff", filepath.Join(dir, "ann.gff"),
		"-fasta", filepath.Join(dir, "ref.fasta"),
		"-o", out,
		filepath.Join(dir, "input.vcf"),
	}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	return out
}

func (s *pipelineSuite) TestConfig(c *check.C) {
	dir := writeDataset(c)
	var stdout, stderr bytes.Buffer
	exited := (&configcmd{}).RunCommand("config", []string{
		"-vcf", filepath.Join(dir, "input.vcf"),
		filepath.Join(dir, "sampleA.depth"),
		filepath.Join(dir, "sampleB.depth"),
	}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, `#Rearrange to make files and columns correspond
#SAMPLE_ID	VCF_COLUMN	DEPTH_FILE
sampleA	sampleA.bam	`+filepath.Join(dir, "sampleA.depth")+`
sampleB	sampleB.bam	`+filepath.Join(dir, "sampleB.depth")+`
`)
}

func (s *pipelineSuite) TestConfigCountMismatch(c *check.C) {
	dir := writeDataset(c)
	var stdout, stderr bytes.Buffer
	exited := (&configcmd{}).RunCommand("config", []string{
		"-vcf", filepath.Join(dir, "input.vcf"),
		filepath.Join(dir, "sampleA.depth"),
		filepath.Join(dir, "sampleB.depth"),
		filepath.Join(dir, "sampleB.depth"),
	}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*number of samples \(2\) in VCF file and number of depth files \(3\) differ.*`)
}

func (s *pipelineSuite) TestParse(c *check.C) {
	dir := writeDataset(c)
	out := s.runParse(c, dir)

	in, err := open(out)
	c.Assert(err, check.IsNil)
	defer in.Close()
	doc, err := snps.ReadDocument(in)
	c.Assert(err, check.IsNil)
	c.Check(doc.Samples, check.DeepEquals, []string{"sampleA", "sampleB"})

	c.Assert(doc.PnPs["sampleA"], check.HasLen, 2)
	p := doc.PnPs["sampleA"][mustUUID(uidA)]
	c.Assert(p, check.NotNil)
	c.Check(p.ExpSyn, check.Equals, 10.0)
	c.Check(p.ExpNonSyn, check.Equals, 20.0)
	c.Check(p.Syn, check.Equals, uint32(2))
	c.Check(p.NonSyn, check.Equals, uint32(4))
	c.Check(p.Coverage, check.Equals, uint32(20))

	p = doc.PnPs["sampleA"][mustUUID(uidB)]
	c.Assert(p, check.NotNil)
	c.Check(p.Syn, check.Equals, uint32(0))
	c.Check(p.NonSyn, check.Equals, uint32(0))

	// depth 1 stays below the coverage threshold
	c.Check(doc.PnPs["sampleB"], check.HasLen, 0)
}

func (s *pipelineSuite) TestParseUnknownVCFSample(c *check.C) {
	dir := writeDataset(c)

	// add a VCF column that the config does not cover, with an
	// alternate call on every record
	buf, err := os.ReadFile(filepath.Join(dir, "input.vcf"))
	c.Assert(err, check.IsNil)
	var vcf strings.Builder
	for _, ln := range strings.Split(strings.TrimRight(string(buf), "\n"), "\n") {
		switch {
		case strings.HasPrefix(ln, "#CHROM"):
			ln += "\tsampleC.bam"
		case !strings.HasPrefix(ln, "#"):
			ln += "\t1/1"
		}
		vcf.WriteString(ln + "\n")
	}
	c.Assert(os.WriteFile(filepath.Join(dir, "extracol.vcf"), []byte(vcf.String()), 0666), check.IsNil)

	cfg := filepath.Join(dir, "samples.tsv")
	c.Assert(os.WriteFile(cfg, []byte(
		"sampleA\tsampleA.bam\t"+filepath.Join(dir, "sampleA.depth")+"\n"+
			"sampleB\tsampleB.bam\t"+filepath.Join(dir, "sampleB.depth")+"\n"), 0666), check.IsNil)

	out := filepath.Join(dir, "pnps.json.gz")
	var stdout bytes.Buffer
	exited := (&parsecmd{}).RunCommand("parse", []string{
		"-config", cfg,
		"-gff", filepath.Join(dir, "ann.gff"),
		"-fasta", filepath.Join(dir, "ref.fasta"),
		"-o", out,
		filepath.Join(dir, "extracol.vcf"),
	}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	// the unmapped column's calls are dropped; mapped samples are
	// counted exactly as without the extra column
	in, err := open(out)
	c.Assert(err, check.IsNil)
	defer in.Close()
	doc, err := snps.ReadDocument(in)
	c.Assert(err, check.IsNil)
	p := doc.PnPs["sampleA"][mustUUID(uidA)]
	c.Assert(p, check.NotNil)
	c.Check(p.Syn, check.Equals, uint32(2))
	c.Check(p.NonSyn, check.Equals, uint32(4))
	c.Check(doc.PnPs["sampleB"], check.HasLen, 0)
}

func (s *pipelineSuite) TestParseEmptyGFF(c *check.C) {
	dir := writeDataset(c)
	c.Assert(os.WriteFile(filepath.Join(dir, "ann.gff"), []byte("##gff-version 2\n"), 0666), check.IsNil)
	out := s.runParse(c, dir)

	in, err := open(out)
	c.Assert(err, check.IsNil)
	defer in.Close()
	doc, err := snps.ReadDocument(in)
	c.Assert(err, check.IsNil)
	c.Check(doc.Samples, check.DeepEquals, []string{"sampleA", "sampleB"})
	c.Check(doc.PnPs["sampleA"], check.HasLen, 0)
	c.Check(doc.PnPs["sampleB"], check.HasLen, 0)
}

func (s *pipelineSuite) TestParseMissingArguments(c *check.C) {
	var stdout, stderr bytes.Buffer
	exited := (&parsecmd{}).RunCommand("parse", []string{"input.vcf"}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?ms)-config, -gff and -fasta arguments are all required.*`)
}

func (s *pipelineSuite) TestCalc(c *check.C) {
	dir := writeDataset(c)
	out := s.runParse(c, dir)

	var stdout bytes.Buffer
	exited := (&calccmd{}).RunCommand("calc", []string{out}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, "uid,sampleA,sampleB\n"+uidA+",1,NaN\n")

	stdout.Reset()
	exited = (&calccmd{}).RunCommand("calc", []string{"-output-pn", out}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, "uid,sampleA,sampleB\n"+uidA+",0.2,NaN\n")
}

func (s *pipelineSuite) TestCalcGrouped(c *check.C) {
	dir := writeDataset(c)
	out := s.runParse(c, dir)
	gm := filepath.Join(dir, "gene.map")
	c.Assert(os.WriteFile(gm, []byte(uidA+"\tgene1,gene2\n"), 0666), check.IsNil)

	var stdout bytes.Buffer
	exited := (&calccmd{}).RunCommand("calc", []string{"-gene-map", gm, out}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, `gene_id,taxon,lineage,sampleA,sampleB
gene1,0,,1,NaN
gene2,0,,1,NaN
`)
}

func (s *pipelineSuite) TestCalcNumpy(c *check.C) {
	dir := writeDataset(c)
	out := s.runParse(c, dir)
	npy := filepath.Join(dir, "pnps.npy")

	var stdout bytes.Buffer
	exited := (&calccmd{}).RunCommand("calc", []string{"-output-numpy", npy, "-o", filepath.Join(dir, "pnps.csv"), out}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	buf, err := os.ReadFile(npy)
	c.Assert(err, check.IsNil)
	c.Assert(len(buf) > 6, check.Equals, true)
	c.Check(string(buf[:6]), check.Equals, "\x93NUMPY")
}

func (s *pipelineSuite) TestCalcEmptyDocument(c *check.C) {
	fnm := filepath.Join(c.MkDir(), "empty.json")
	c.Assert(os.WriteFile(fnm, []byte(`{"samples":[],"pnps":{}}`), 0666), check.IsNil)

	var stdout bytes.Buffer
	exited := (&calccmd{}).RunCommand("calc", []string{fnm}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, "uid\n")
}

func (s *pipelineSuite) TestCalcFlagConflicts(c *check.C) {
	for _, args := range [][]string{
		{"-output-pn", "-output-ps", "in.json"},
		{"-taxon-map", "t.map", "-lineage-map", "l.map", "in.json"},
		{"-taxon-map", "t.map", "in.json"},
	} {
		var stdout, stderr bytes.Buffer
		exited := (&calccmd{}).RunCommand("calc", args, nil, &stdout, &stderr)
		c.Check(exited, check.Equals, 2, check.Commentf("args %v", args))
	}
}

func (s *pipelineSuite) TestStats(c *check.C) {
	dir := writeDataset(c)
	out := s.runParse(c, dir)

	var stdout bytes.Buffer
	exited := (&statscmd{}).RunCommand("stats", []string{"-i", out}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	var ret struct {
		Samples     int
		Annotations int
		PerSample   []sampleReport
	}
	c.Assert(json.Unmarshal(stdout.Bytes(), &ret), check.IsNil)
	c.Check(ret.Samples, check.Equals, 2)
	c.Check(ret.Annotations, check.Equals, 2)
	c.Assert(ret.PerSample, check.HasLen, 2)
	c.Check(ret.PerSample[0].Sample, check.Equals, "sampleA")
	c.Check(ret.PerSample[0].Records, check.Equals, 2)
	c.Check(ret.PerSample[0].MaxCoverage, check.Equals, uint32(20))
	c.Check(ret.PerSample[0].MeanCoverage, check.Equals, 20.0)
	c.Check(ret.PerSample[0].MeanPnPs, check.Equals, 1.0)
	c.Check(ret.PerSample[0].MedianPnPs, check.Equals, 1.0)
	c.Check(ret.PerSample[1].Sample, check.Equals, "sampleB")
	c.Check(ret.PerSample[1].Records, check.Equals, 0)
}
