// Command gojvm links classes from a class path and prints their runtime
// layout: field offsets, reference mask, virtual and interface tables, and
// native symbols.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/gojvmcore/pkg/config"
	"github.com/daimatz/gojvmcore/pkg/finder"
	"github.com/daimatz/gojvmcore/pkg/heap"
	"github.com/daimatz/gojvmcore/pkg/native"
	"github.com/daimatz/gojvmcore/pkg/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("gojvm")

func findJmodPath() string {
	// 1. Explicit env var
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	// 2. JAVA_HOME
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	// 3. Glob fallback
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

func main() {
	configPath := flag.String("config", "", "path to gojvm.toml")
	classPath := flag.String("cp", "", "class path, overrides the config file")
	jdk := flag.Bool("jdk", false, "append java.base.jmod to the class path")
	verbosity := flag.Int("v", -1, "log verbosity, overrides the config file")
	logFile := flag.String("log", "", "log file, overrides the config file")
	format := flag.String("format", "text", "output format: text or cbor")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gojvm [flags] <class>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}
	if *format != "text" && *format != "cbor" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *classPath != "" {
		cfg.ClassPath = finder.SplitList(*classPath)
		cfg.Dir = ""
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	if cfg.Log.File != "" {
		commonlog.Configure(cfg.Log.Verbosity, &cfg.Log.File)
	} else {
		commonlog.Configure(cfg.Log.Verbosity, nil)
	}

	entries := cfg.ClassPathEntries()
	if *jdk {
		jmodPath := findJmodPath()
		if jmodPath == "" {
			fmt.Fprintf(os.Stderr, "Error: could not find java.base.jmod. Set JAVA_HOME or JAVA_BASE_JMOD.\n")
			os.Exit(1)
		}
		entries = append(entries, jmodPath)
	}

	if err := run(cfg, finder.ParsePath(entries), flag.Args(), *format, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// run links every named class, each on its own thread, then writes the
// reports in argument order.
func run(cfg *config.Config, path finder.Path, names []string, format string, out io.Writer) (err error) {
	defer exitOnFatal()

	m := vm.NewMachine(path, vm.Options{
		NurseryWords:     cfg.Heap.NurseryWords,
		LargeObjectBytes: cfg.Heap.LargeObjectBytes,
		Collector: heap.Options{
			YoungChunkWords:   cfg.Heap.YoungChunkWords,
			TenuredChunkWords: cfg.Heap.TenuredChunkWords,
		},
		Natives: native.Default(out),
	})
	root := m.Root()

	reports := make([]*vm.LinkReport, len(names))
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		name = strings.ReplaceAll(strings.TrimSuffix(name, ".class"), ".", "/")
		th := root.Spawn(func(th *vm.Thread) {
			defer exitOnFatal()
			c := m.ResolveClass(th, name)
			if c == nil {
				errs[i] = th.Err()
				th.ClearException()
				return
			}
			log.Infof("linked %s", name)
			reports[i] = c.Report()
		})
		g.Go(func() error {
			th.Join()
			return errs[i]
		})
	}
	root.Blocking(func() { err = g.Wait() })

	root.Exit()
	m.Wait()

	if err != nil {
		if errors.Is(err, vm.ErrClassNotFound) {
			return fmt.Errorf("%w (class path %v)", err, path)
		}
		return err
	}

	for _, r := range reports {
		if err := writeReport(out, r, format); err != nil {
			return err
		}
	}
	return nil
}

// exitOnFatal ends the process when the runtime aborts.
func exitOnFatal() {
	r := recover()
	if r == nil {
		return
	}
	fatal, ok := r.(*vm.FatalError)
	if !ok {
		panic(r)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", fatal)
	os.Exit(2)
}

func writeReport(w io.Writer, r *vm.LinkReport, format string) error {
	if format == "cbor" {
		data, err := r.MarshalCBOR()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	return r.WriteText(w)
}
