// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
	"go.opentelemetry.io/dotnet-gcinfo/internal/dumper"
	"go.opentelemetry.io/dotnet-gcinfo/methodcache"
)

const (
	// Default values for CLI flags
	defaultArgFormatVersion = gcinfo.CurrentVersion
	defaultArgCacheSize     = methodcache.DefaultSize
)

// Help strings for command line arguments
var (
	archHelp = fmt.Sprintf("Encoding of the blobs (%s). Default is the build target.",
		strings.Join(archNames, "|"))
	formatVersionHelp = fmt.Sprintf("GC info format version of the blobs. "+
		"Versions below %d need a build with the gcinfo_legacy tag.", gcinfo.CurrentVersion)
	offsetHelp = "Dump the live slots at this code offset. Pass the return address - 1 " +
		"for a call site."
	allHelp         = "Dump the live slots at every safe point and interruptible offset."
	scratchHelp     = "Report slots in scratch registers and the outgoing argument area."
	fpOnlyHelp      = "Only report stack slots relative to the frame register."
	noUntrackedHelp = "Do not report untracked slots."
	abortedHelp     = "Treat the frame as one whose execution was aborted."
	windowsHelp     = "Use the Windows calling convention for AMD64 scratch registers."
	pidHelp         = "Read a blob from the memory of this process."
	addrHelp        = "Address of the blob in the process given with -pid."
	sizeHelp        = "Number of bytes to read at -addr."
	cacheSizeHelp   = "Number of decoded method summaries to cache."
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	versionHelp     = "Show version."
)

var archNames = []string{"amd64", "arm64", "arm", "loongarch64", "riscv64"}

func parseArgs() (*dumper.Config, error) {
	var args dumper.Config

	fs := flag.NewFlagSet("gcinfodump", flag.ExitOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.Uint64Var(&args.Addr, "addr", 0, addrHelp)
	fs.BoolVar(&args.Aborted, "aborted", false, abortedHelp)
	fs.BoolVar(&args.All, "all", false, allHelp)
	fs.StringVar(&args.Arch, "arch", gcinfo.Target{}.Layout().Name, archHelp)

	fs.UintVar(&args.CacheSize, "cache-size", defaultArgCacheSize, cacheSizeHelp)

	fs.BoolVar(&args.FPOnly, "fp-only", false, fpOnlyHelp)

	fs.BoolVar(&args.NoUntracked, "no-untracked", false, noUntrackedHelp)

	fs.Int64Var(&args.Offset, "offset", dumper.NoOffset, offsetHelp)

	fs.IntVar(&args.PID, "pid", 0, pidHelp)

	fs.BoolVar(&args.Scratch, "scratch", false, scratchHelp)
	fs.UintVar(&args.Size, "size", 0, sizeHelp)

	fs.BoolVar(&args.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.Version, "version", false, versionHelp)
	fs.UintVar(&args.FormatVersion, "version-tag", defaultArgFormatVersion, formatVersionHelp)

	fs.BoolVar(&args.Windows, "windows", false, windowsHelp)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] [blob files]\n", fs.Name())
		fs.PrintDefaults()
	}

	args.Fs = fs

	err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GCINFODUMP"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current
		// version does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
	args.Inputs = fs.Args()
	return &args, err
}
