// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package dumper // import "go.opentelemetry.io/dotnet-gcinfo/internal/dumper"

import (
	"errors"
	"flag"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
)

// NoOffset disables the dump of live slots at a single offset.
const NoOffset = -1

// MaxCacheSize bounds the number of cached method summaries.
const MaxCacheSize = 1 << 20

type Config struct {
	Arch          string
	FormatVersion uint
	Offset        int64
	All           bool
	Scratch       bool
	FPOnly        bool
	NoUntracked   bool
	Aborted       bool
	Windows       bool

	PID  int
	Addr uint64
	Size uint

	CacheSize   uint
	Inputs      []string
	VerboseMode bool
	Version     bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	if cfg.Fs == nil {
		log.Debugf("%+v", *cfg)
		return
	}
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
	log.Debugf("inputs: %v", cfg.Inputs)
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if _, ok := gcinfo.LayoutByName(cfg.Arch); !ok {
		return fmt.Errorf("unknown architecture %q", cfg.Arch)
	}
	if cfg.FormatVersion < gcinfo.MinVersion || cfg.FormatVersion > gcinfo.CurrentVersion {
		return fmt.Errorf("format version %d is not in [%d,%d]",
			cfg.FormatVersion, gcinfo.MinVersion, gcinfo.CurrentVersion)
	}
	if cfg.FormatVersion < gcinfo.CurrentVersion && !gcinfo.LegacyFormats {
		return fmt.Errorf("format version %d needs a build with the gcinfo_legacy tag",
			cfg.FormatVersion)
	}
	if cfg.Offset < NoOffset || cfg.Offset > math.MaxUint32 {
		return fmt.Errorf("code offset %d out of range", cfg.Offset)
	}
	if cfg.CacheSize > MaxCacheSize {
		return fmt.Errorf("cache size %d exceeds limit (max: %d)", cfg.CacheSize, MaxCacheSize)
	}
	if cfg.PID != 0 {
		if cfg.PID < 0 {
			return fmt.Errorf("invalid pid %d", cfg.PID)
		}
		if cfg.Addr == 0 || cfg.Size == 0 {
			return errors.New("reading from a process needs an address and a size")
		}
	} else if len(cfg.Inputs) == 0 {
		return errors.New("no input: pass blob files or a pid and address")
	}
	return nil
}

func (cfg *Config) codeManagerFlags() gcinfo.CodeManagerFlags {
	var flags gcinfo.CodeManagerFlags
	if cfg.FPOnly {
		flags |= gcinfo.ReportFPBasedSlotsOnly
	}
	if cfg.NoUntracked {
		flags |= gcinfo.NoReportUntracked
	}
	if cfg.Aborted {
		flags |= gcinfo.ExecutionAborted
	}
	return flags
}
