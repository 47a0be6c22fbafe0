package input

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// StdinArg is the argument that means "read the target from stdin".
const StdinArg = "-"

// ListPrefix marks an argument naming a file with one target per line.
const ListPrefix = "@"

// Reader turns command-line arguments into target payloads.
type Reader struct {
	logger utils.Logger
	stdin  io.Reader
}

// NewReader creates a new Reader.
func NewReader(logger utils.Logger) *Reader {
	return &Reader{logger: logger, stdin: os.Stdin}
}

// Resolve maps each argument to a payload: an existing path becomes a
// target.Path, "-" is replaced by the contents of stdin, "@file" expands to
// the targets listed in file and anything else is kept as a string (URL or
// literal data).
func (r *Reader) Resolve(ctx context.Context, args []string) ([]any, error) {
	var lists []string
	for _, arg := range args {
		if strings.HasPrefix(arg, ListPrefix) && len(arg) > len(ListPrefix) {
			lists = append(lists, strings.TrimPrefix(arg, ListPrefix))
		}
	}
	expanded, err := r.readLists(ctx, lists)
	if err != nil {
		return nil, err
	}

	var payloads []any
	for _, arg := range args {
		switch {
		case arg == StdinArg:
			data, err := io.ReadAll(r.stdin)
			if err != nil {
				return nil, fmt.Errorf("failed to read stdin: %w", err)
			}
			payloads = append(payloads, data)
		case strings.HasPrefix(arg, ListPrefix) && len(arg) > len(ListPrefix):
			for _, line := range expanded[strings.TrimPrefix(arg, ListPrefix)] {
				payloads = append(payloads, classify(line))
			}
		default:
			payloads = append(payloads, classify(arg))
		}
	}
	return payloads, nil
}

// readLists loads every list file concurrently.
func (r *Reader) readLists(ctx context.Context, files []string) (map[string][]string, error) {
	results := make([][]string, len(files))
	g, _ := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			lines, err := config.LoadLinesFromFile(file)
			if err != nil {
				return fmt.Errorf("failed to read target list %s: %w", file, err)
			}
			results[i] = lines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(files))
	for i, file := range files {
		out[file] = results[i]
		r.logger.Debugf("Loaded %d targets from %s", len(results[i]), file)
	}
	return out, nil
}

func classify(arg string) any {
	if info, err := os.Stat(arg); err == nil && info.Mode().IsRegular() {
		return target.Path(arg)
	}
	return arg
}
