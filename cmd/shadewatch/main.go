// Command shadewatch validates a directory of WGSL shader modules and
// revalidates the affected ones as they change on disk.
package main

import (
	"context"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gogpu/shade"
	"github.com/gogpu/shade/watch"
)

const pollInterval = 200 * time.Millisecond

func main() {
	var (
		dir     = flag.String("dir", ".", "shader source directory")
		symbols = flag.String("flags", "", "comma-separated feature flags (e.g. SHADOWS,MSAA)")
		once    = flag.Bool("once", false, "validate every module once and exit")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	shade.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	v := &validator{
		compiler: shade.NewCompiler(shade.ResolverStore{Resolver: shade.NewDirResolver(*dir)}),
		flags:    parseFlags(*symbols),
		deps:     make(map[string][]string),
		failed:   make(map[string]bool),
	}

	modules, err := listModules(*dir)
	if err != nil {
		log.Fatalf("Failed to scan %s: %v", *dir, err)
	}
	if len(modules) == 0 {
		log.Fatalf("No %s modules under %s", shade.SourceExt, *dir)
	}

	failures := 0
	for _, id := range modules {
		if !v.validate(id) {
			failures++
		}
	}
	log.Printf("Validated %d modules, %d failed", len(modules), failures)

	if *once {
		if failures > 0 {
			os.Exit(1)
		}
		return
	}

	watcher, err := watch.New(*dir)
	if err != nil {
		log.Fatalf("Failed to watch %s: %v", *dir, err)
	}
	defer watcher.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("Watching %s for changes", *dir)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed := watcher.Changed(); len(changed) > 0 {
				v.sweep(changed)
			}
		}
	}
}

// validator recompiles modules and tracks, per module, the dependency
// closure of its last good compile plus whether the last attempt
// failed. A change revalidates exactly the modules whose closure it
// touches; failed modules are retried on every sweep until they
// compile again.
type validator struct {
	compiler *shade.Compiler
	flags    shade.FlagSet
	deps     map[string][]string
	failed   map[string]bool
}

// sweep revalidates everything affected by the changed module ids.
func (v *validator) sweep(changed []string) {
	affected := make(map[string]bool)
	for _, id := range changed {
		affected[id] = true
	}
	for root, closure := range v.deps {
		for _, dep := range closure {
			if affected[dep] {
				affected[root] = true
				break
			}
		}
	}
	for id := range v.failed {
		affected[id] = true
	}

	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		v.validate(id)
	}
}

// validate compiles one module and prints a one-line result.
func (v *validator) validate(id string) bool {
	start := time.Now()
	compiled, err := v.compiler.Compile(id, v.flags)
	if err != nil {
		v.failed[id] = true
		log.Printf("FAIL %s: %v", id, err)
		return false
	}
	delete(v.failed, id)
	v.deps[id] = compiled.Modules
	log.Printf("ok   %s (%d modules, %v)", id, len(compiled.Modules), time.Since(start))
	return true
}

// listModules walks dir for shader sources and returns their module ids.
func listModules(dir string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, shade.SourceExt) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		ids = append(ids, shade.NormalizeModuleID(rel))
		return nil
	})
	slices.Sort(ids)
	return ids, err
}

// parseFlags splits a comma-separated flag list into a FlagSet.
func parseFlags(s string) shade.FlagSet {
	var symbols []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return shade.NewFlagSet(symbols...)
}
