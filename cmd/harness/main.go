// Command harness drives the disagreement experiments as a sequential
// batch pipeline: normalize data, build training variants, generate
// framework configs, run the seeds one process at a time, score.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"mdagreement-harness/internal/config"
	"mdagreement-harness/internal/dataset"
	"mdagreement-harness/internal/machamp"
	"mdagreement-harness/internal/pipeline"
	"mdagreement-harness/internal/scoring"
	"mdagreement-harness/internal/splits"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: harness <command> [flags]

commands:
  prepare   normalize raw MD-Agreement splits into framework TSVs
  splits    derive the training-data variants
  config    generate one framework dataset config
  run       execute the experiment's train+predict matrix sequentially
  score     aggregate prediction files into a group-wise score table
  all       prepare + splits + configs + run + score from one experiment file
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "prepare":
		err = cmdPrepare(os.Args[2:])
	case "splits":
		err = cmdSplits(os.Args[2:])
	case "config":
		err = cmdConfig(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	case "score":
		err = cmdScore(os.Args[2:])
	case "all":
		err = cmdAll(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("harness %s: %v", os.Args[1], err)
	}
}

func cmdPrepare(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	trainCSV := fs.String("train-csv", "", "raw MD-Agreement train split (required)")
	devCSV := fs.String("dev-csv", "", "raw MD-Agreement dev split (required)")
	testCSV := fs.String("test-csv", "", "raw MD-Agreement test split (required)")
	taxonomy := fs.String("taxonomy", "", "Category_dataset.tsv with taxonomy annotations")
	idCol := fs.String("id-col", "ID", "identifier column")
	textCol := fs.String("text-col", "Text", "text column")
	goldCol := fs.String("gold-col", "Offensive_binary_label", "gold OFF/NOT column (optional when deriving from annotators)")
	agrCol := fs.String("agr-col", "Agreement_level", "agreement column (A++/A+/A0), optional")
	annCols := fs.String("ann-cols", "", "comma-separated names of five annotator columns")
	annField := fs.String("ann-field", "Individual_Annotations", "column with packed annotator labels (unless -ann-cols)")
	preferTax := fs.Bool("prefer-taxonomy-agr", false, "taxonomy agreement labels win when available")
	outDir := fs.String("outdir", "data/md_agreement", "output directory")
	_ = fs.Parse(args)

	if *trainCSV == "" || *devCSV == "" || *testCSV == "" {
		return fmt.Errorf("-train-csv, -dev-csv and -test-csv are required")
	}

	tax, err := dataset.LoadTaxonomy(*taxonomy)
	if err != nil {
		return err
	}
	opts := dataset.Options{
		IDColumn:        *idCol,
		TextColumn:      *textCol,
		GoldColumn:      *goldCol,
		AgreementColumn: *agrCol,
		PreferTaxonomy:  *preferTax,
	}
	if *annCols != "" {
		opts.AnnotatorColumns = strings.Split(*annCols, ",")
	} else {
		opts.AnnotationsField = *annField
	}

	for _, s := range []struct{ in, split string }{
		{*trainCSV, "train"}, {*devCSV, "dev"}, {*testCSV, "test"},
	} {
		out := fmt.Sprintf("%s/%s.tsv", *outDir, s.split)
		n, err := dataset.ProcessSplit(s.in, out, tax, opts, s.split)
		if err != nil {
			return err
		}
		log.Printf("%s: %d rows -> %s", s.split, n, out)
	}
	return nil
}

func cmdSplits(args []string) error {
	fs := flag.NewFlagSet("splits", flag.ExitOnError)
	baseDir := fs.String("base-dir", "data/md_agreement", "directory with normalized train/dev/test TSVs")
	outRoot := fs.String("out-root", "data/splits", "root for variant directories")
	_ = fs.Parse(args)

	sizes, err := splits.Build(*baseDir, *outRoot)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(sizes))
	for name := range sizes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Printf("%s train_size: %d", name, sizes[name])
	}
	return nil
}

func cmdConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	splitDir := fs.String("split-dir", "", "directory with train/dev/test TSVs (required)")
	out := fs.String("out", "", "output JSON path (required)")
	mode := fs.String("mode", "single", "single, mtl3 or mtl6")
	_ = fs.Parse(args)

	if *splitDir == "" || *out == "" {
		return fmt.Errorf("-split-dir and -out are required")
	}
	m, err := machamp.ParseMode(*mode)
	if err != nil {
		return err
	}
	if err := machamp.NewConfig(*splitDir, m).Write(*out); err != nil {
		return err
	}
	log.Printf("wrote %s", *out)
	return nil
}

func signalCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	expPath := fs.String("experiment", "experiment.yaml", "experiment spec file")
	_ = fs.Parse(args)

	exp, err := config.Load(*expPath)
	if err != nil {
		return err
	}
	ctx, stop := signalCtx()
	defer stop()
	outputs, err := pipeline.Execute(ctx, exp)
	if err != nil {
		return err
	}
	log.Printf("%d/%d runs produced predictions", len(outputs), countSpecs(exp))
	return nil
}

func cmdScore(args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	testTSV := fs.String("test-tsv", "", "gold test split (required)")
	predGlob := fs.String("pred-glob", "", "glob matching prediction files (required)")
	groupBy := fs.String("group-by", "none", "none, category or subtype")
	outJSON := fs.String("out-json", "", "output JSON path (required)")
	_ = fs.Parse(args)

	if *testTSV == "" || *predGlob == "" || *outJSON == "" {
		return fmt.Errorf("-test-tsv, -pred-glob and -out-json are required")
	}
	by, err := scoring.ParseGroupBy(*groupBy)
	if err != nil {
		return err
	}
	table, err := scoring.Score(*testTSV, *predGlob, by)
	if err != nil {
		return err
	}
	if err := scoring.WriteJSON(*outJSON, table); err != nil {
		return err
	}
	log.Printf("wrote %s", *outJSON)
	return nil
}

func cmdAll(args []string) error {
	fs := flag.NewFlagSet("all", flag.ExitOnError)
	expPath := fs.String("experiment", "experiment.yaml", "experiment spec file")
	_ = fs.Parse(args)

	exp, err := config.Load(*expPath)
	if err != nil {
		return err
	}
	if err := pipeline.Prepare(exp); err != nil {
		return err
	}
	sizes, err := pipeline.BuildSplits(exp)
	if err != nil {
		return err
	}
	for _, v := range exp.Runs.Variants {
		log.Printf("%s train_size: %d", v, sizes[v])
	}
	if err := pipeline.GenerateConfigs(exp); err != nil {
		return err
	}
	ctx, stop := signalCtx()
	defer stop()
	if _, err := pipeline.Execute(ctx, exp); err != nil {
		return err
	}
	return pipeline.ScoreAll(exp)
}

func countSpecs(exp *config.Experiment) int {
	return len(exp.Runs.Variants) * len(exp.Runs.Modes) * len(exp.Runs.Seeds)
}
