// sable-mi interprets a compiled Sable MIR unit, checking for
// undefined behavior as it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/sable-lang/sable/interp"
	"github.com/sable-lang/sable/manifest"
	"github.com/sable-lang/sable/mir"
	"github.com/sable-lang/sable/sysroot"
)

func main() {
	entry := flag.String("entry", "", "Run this item instead of the unit's designated entry point")
	sysrootPath := flag.String("sysroot", "", "Path to the core library sysroot store")
	seed := flag.Int64("seed", 0, "Seed for uninitialized-byte poisoning")
	manifestDir := flag.String("manifest", "", "Directory containing sable.toml (default: search upward from cwd)")
	verbose := flag.Bool("v", false, "Verbose engine logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sable-mi [options] unit.smir\n\n")
		fmt.Fprintf(os.Stderr, "Interprets a compiled MIR unit, running to completion or first UB.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sable-mi app.smir                  # Run the unit's entry point\n")
		fmt.Fprintf(os.Stderr, "  sable-mi -entry bench app.smir     # Run an alternate start item\n")
		fmt.Fprintf(os.Stderr, "  sable-mi -sysroot core.db app.smir # Resolve core-library calls\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)
	log := commonlog.GetLogger("sable-mi")

	// Manifest values fill in anything the flags leave unset.
	searchDir := *manifestDir
	if searchDir == "" {
		searchDir = "."
	}
	man, err := manifest.FindAndLoad(searchDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(2)
	}
	if man != nil {
		if *entry == "" {
			*entry = man.Run.Entry
		}
		if *sysrootPath == "" {
			*sysrootPath = man.SysrootPath()
		}
		if *seed == 0 {
			*seed = man.Run.Seed
		}
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading unit: %v\n", err)
		os.Exit(2)
	}
	unit, err := mir.DecodeUnit(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding unit: %v\n", err)
		os.Exit(2)
	}
	log.Infof("loaded unit with %d bodies", len(unit.Bodies))

	opts := interp.Options{
		Entry:  *entry,
		Seed:   *seed,
		Output: os.Stdout,
	}
	if *sysrootPath != "" {
		store, err := sysroot.Open(*sysrootPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening sysroot: %v\n", err)
			os.Exit(2)
		}
		defer store.Close()
		opts.Resolver = store.Resolver()
	}

	mch, err := interp.NewMachine(unit, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Interrupt stops the machine at the next statement boundary,
	// leaving its memory intact; nothing to clean up beyond that.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := mch.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if v, ok := mch.Result(); ok && v.Kind == interp.ValScalar {
		fmt.Fprintf(os.Stdout, "%d\n", v.Scalar.Int())
	}
	log.Infof("finished after %d steps", mch.Steps())
}
