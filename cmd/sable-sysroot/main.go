// sable-sysroot builds a sysroot store from compiled MIR units, so
// the interpreter can resolve core-library calls lazily at run time.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/sable-lang/sable/mir"
	"github.com/sable-lang/sable/sysroot"
)

func main() {
	out := flag.String("o", "core.sysroot", "Output store path")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sable-sysroot [options] unit.smir...\n\n")
		fmt.Fprintf(os.Stderr, "Collects every body from the given units into a sysroot store.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)
	log := commonlog.GetLogger("sable-sysroot")

	var bodies []*mir.Body
	seen := make(map[string]string)
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading unit: %v\n", err)
			os.Exit(2)
		}
		unit, err := mir.DecodeUnit(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", path, err)
			os.Exit(2)
		}
		for name, body := range unit.Bodies {
			if prev, dup := seen[name]; dup {
				fmt.Fprintf(os.Stderr, "Error: %q defined in both %s and %s\n", name, prev, path)
				os.Exit(1)
			}
			seen[name] = path
			bodies = append(bodies, body)
		}
		log.Infof("collected %d bodies from %s", len(unit.Bodies), path)
	}

	if err := sysroot.Build(*out, bodies); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d bodies to %s\n", len(bodies), *out)
}
