package resolve

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

// Source yields OSM objects and can be iterated any number of times.
// Each Open starts a fresh scan over the same logical data; random
// access is never assumed.
type Source interface {
	Open(ctx context.Context) (osm.Scanner, error)
}

// FileSource opens a PBF file from disk for each pass. Procs controls
// decoder parallelism; zero means one goroutine per CPU.
type FileSource struct {
	Path  string
	Procs int
}

func (s FileSource) Open(ctx context.Context) (osm.Scanner, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	procs := s.Procs
	if procs <= 0 {
		procs = runtime.NumCPU()
	}
	return &fileScanner{Scanner: osmpbf.New(ctx, f, procs), f: f}, nil
}

// fileScanner ties the lifetime of the backing file to the scanner.
type fileScanner struct {
	*osmpbf.Scanner
	f *os.File
}

func (s *fileScanner) Close() error {
	err := s.Scanner.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
