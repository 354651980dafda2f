// Command zilc compiles a source file into a story file image.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/avwohl/zorkie-sub001/compiler"
	"github.com/avwohl/zorkie-sub001/config"
)

var (
	debug      bool
	verbose    bool
	outName    string
	version    int
	dedup      bool
	abbrevs    int
	configPath string
)

func atExit(c *compiler.Compilation, err error) {
	if err == nil {
		return
	}
	if !debug {
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "\n%+v\n", err)
	if c != nil {
		for _, d := range c.Diagnostics() {
			fmt.Fprintln(os.Stderr, d.String())
		}
	}
	os.Exit(1)
}

func main() {
	var err error
	var c *compiler.Compilation

	defer func() { atExit(c, err) }()

	flag.BoolVar(&debug, "debug", false, "print full diagnostics on failure")
	flag.BoolVar(&verbose, "v", false, "verbose diagnostics (includes notes)")
	flag.StringVar(&outName, "o", "", "output `filename` (defaults to the source name with its extension replaced)")
	flag.IntVar(&version, "version", 3, "target VM version (3, 4 or 5)")
	flag.BoolVar(&dedup, "dedup", true, "select shared substrings for the abbreviation table (identical printable strings are always merged)")
	flag.IntVar(&abbrevs, "abbrevs", 96, "maximum abbreviation table entries (<=96)")
	flag.StringVar(&configPath, "config", "", "load target/diagnostics settings from `file` (TOML)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: zilc [flags] source.zil")
		flag.PrintDefaults()
		os.Exit(1)
	}
	src := flag.Arg(0)

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
		if err != nil {
			return
		}
	} else {
		cfg = config.DefaultConfig()
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "version":
			cfg.Target.Version = version
		case "dedup":
			cfg.Target.Dedup = dedup
		case "abbrevs":
			cfg.Target.Abbrevs = abbrevs
		case "v":
			cfg.Diagnostics.Verbose = verbose
		}
	})
	if err = cfg.Validate(); err != nil {
		return
	}

	if outName == "" {
		outName = defaultOutputName(src, cfg.Target.Version)
	}

	c = compiler.New(cfg)
	var res *compiler.Result
	res, err = c.Build(src, outName)
	if err != nil {
		return
	}
	if verbose {
		fmt.Printf("wrote %s (%d bytes, %d objects, %d routines)\n",
			outName, len(res.Image), len(res.Program.Objects), len(res.Program.Routines))
	}
}

func defaultOutputName(src string, version int) string {
	ext := filepath.Ext(src)
	base := strings.TrimSuffix(src, ext)
	return fmt.Sprintf("%s.z%d", base, version)
}
