// omnivm runs and inspects compiled OMNI bundles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/chazu/omnivm/manifest"
	"github.com/chazu/omnivm/vm"
	"github.com/chazu/omnivm/vm/bundle"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: omnivm <command> [options] [bundle.cbor]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run      Load a bundle and send its entry selector on one or more cores\n")
	fmt.Fprintf(os.Stderr, "  disasm   Print the bytecodes of every method in a bundle\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  omnivm run app.cbor                  # Run the bundle's entry point\n")
	fmt.Fprintf(os.Stderr, "  omnivm run -cores 4 app.cbor         # Run it on four cores at once\n")
	fmt.Fprintf(os.Stderr, "  omnivm run -config ./proj            # Use ./proj/omni.toml and its bundle\n")
	fmt.Fprintf(os.Stderr, "  omnivm disasm app.cbor\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "disasm":
		err = disasmCommand(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if vm.IsFatal(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory containing omni.toml (default: search upwards from .)")
	cores := fs.Int("cores", 0, "Number of cores to run the entry point on (overrides omni.toml)")
	verbosity := fs.Int("v", 0, "Log verbosity (overrides omni.toml)")
	class := fs.String("class", "", "Class to instantiate as the receiver (overrides the bundle entry)")
	selector := fs.String("selector", "", "Selector to send (overrides the bundle entry)")
	assertions := fs.Bool("assertions", false, "Enable interpreter consistency checks")
	fs.Parse(args)

	m, err := loadManifest(*configDir)
	if err != nil {
		return err
	}
	cfg := m.VMConfig()
	if *cores > 0 {
		cfg.Cores = *cores
	}
	if *assertions {
		cfg.Assertions = true
	}
	level := *verbosity
	if level == 0 {
		level = m.Log.Verbosity
	}
	commonlog.Initialize(level, m.LogPath())

	path := fs.Arg(0)
	if path == "" {
		path = m.BundlePath()
	}
	if path == "" {
		return errors.New("no bundle given and none configured in omni.toml")
	}

	v := vm.NewVM(cfg)
	prog, err := loadBundle(v, path)
	if err != nil {
		return err
	}
	if *class == "" {
		*class = m.Run.Class
	}
	if *selector == "" {
		*selector = m.Run.Selector
	}
	if *class != "" {
		cls := v.Classes.Lookup(*class)
		if cls == nil {
			return fmt.Errorf("%w %s", bundle.ErrUnknownClass, *class)
		}
		prog.Receiver = v.NewInstance(cls, 0)
	}
	if *selector != "" {
		prog.Selector = *selector
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results := make([]vm.Oop, cfg.Cores)
	jobs := make([]vm.Job, cfg.Cores)
	for k := range jobs {
		jobs[k] = func(ctx context.Context, i *vm.Interpreter) error {
			result, err := prog.Run(ctx, i)
			results[k] = result
			return err
		}
	}
	if err := v.RunCores(ctx, jobs); err != nil {
		return err
	}
	for k, r := range results {
		if len(results) > 1 {
			fmt.Printf("core %d: ", k)
		}
		fmt.Println(v.Describe(r))
	}
	return nil
}

func disasmCommand(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("disasm takes exactly one bundle")
	}
	v := vm.NewVM(vm.DefaultConfig())
	prog, err := loadBundle(v, fs.Arg(0))
	if err != nil {
		return err
	}
	for n, method := range prog.Methods {
		listing, err := v.Disassemble(method)
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Println()
		}
		fmt.Print(listing)
	}
	return nil
}

// loadManifest never returns a nil manifest: without an omni.toml the
// result is empty and every setting keeps its default.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &manifest.Manifest{}
	}
	return m, nil
}

func loadBundle(v *vm.VM, path string) (*bundle.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	b, err := bundle.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b.Load(v)
}
