package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"

	"github.com/aiserve/modelrouter/internal/config"
	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/engine"
	"github.com/aiserve/modelrouter/internal/registry"
)

var (
	developerMode bool
	debugMode     bool
)

func main() {
	flag.BoolVar(&developerMode, "dv", false, "Enable developer mode")
	flag.BoolVar(&developerMode, "developer-mode", false, "Enable developer mode")
	flag.BoolVar(&debugMode, "dm", false, "Enable debug mode")
	flag.BoolVar(&debugMode, "debug-mode", false, "Enable debug mode")
	flag.Parse()

	if debugMode {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	journal := registry.NewJournal(cfg.Registry.JournalPath)
	reg := registry.New(cfg.Registry.Capacity, journal)
	if err := reg.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load registry journal: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	switch args[0] {
	case "list":
		listModels(reg)

	case "register":
		if len(args) < 4 {
			log.Fatal("Usage: routerctl register <id> <name> <format> [capability...]")
		}
		registerModel(ctx, reg, args[1], args[2], args[3], args[4:])

	case "unregister":
		if len(args) < 2 {
			log.Fatal("Usage: routerctl unregister <id>")
		}
		unregisterModel(ctx, reg, args[1])

	case "evict":
		evictLRU(ctx, reg)

	case "stats":
		if len(args) < 2 {
			log.Fatal("Usage: routerctl stats <id>")
		}
		showStats(reg, args[1])

	case "load-catalog":
		loadCatalog(ctx, reg, cfg.Catalog.Path)

	case "substrates":
		showSubstrates()

	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Model Router Control Utility")
	fmt.Println("\nUsage:")
	fmt.Println("  routerctl [flags] <command> [args]")
	fmt.Println("\nFlags:")
	fmt.Println("  -dv, -developer-mode    Enable developer mode")
	fmt.Println("  -dm, -debug-mode        Enable debug mode")
	fmt.Println("\nCommands:")
	fmt.Println("  list                                   List every registered model")
	fmt.Println("  register <id> <name> <fmt> [cap...]    Register a new descriptor")
	fmt.Println("  unregister <id>                        Remove a descriptor, closing any live handle")
	fmt.Println("  evict                                  Evict the least-recently-used loaded model")
	fmt.Println("  stats <id>                             Show a single model's latency/token history")
	fmt.Println("  load-catalog                           Re-seed the registry from the catalog file")
	fmt.Println("  substrates                             Show which execution substrates are available on this host")
}

func showSubstrates() {
	sel := engine.NewSelector()
	available := sel.Available()

	fmt.Println("Execution Substrates")
	fmt.Println("====================")
	if len(available) == 0 {
		fmt.Println("None detected. Native and child-process loads will fail until nvidia-smi, rocm-smi, or python3 is reachable.")
		return
	}
	for _, s := range available {
		fmt.Printf("  %s\n", s)
	}
}

func listModels(reg *registry.Registry) {
	snaps := reg.List()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Format", "Status", "Loaded", "Registered"})
	for _, s := range snaps {
		table.Append([]string{
			s.Descriptor.ID, s.Descriptor.Name, string(s.Descriptor.Format), string(s.Status),
			fmt.Sprintf("%v", s.Loaded), s.RegisteredAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	fmt.Printf("\nTotal: %d models\n", reg.Size())
}

func registerModel(ctx context.Context, reg *registry.Registry, id, name, format string, caps []string) {
	capSet := make(descriptor.CapabilitySet, len(caps))
	for _, c := range caps {
		capSet[descriptor.Capability(c)] = struct{}{}
	}

	d := descriptor.Descriptor{
		ID:           id,
		Name:         name,
		Format:       descriptor.Format(format),
		Capabilities: capSet,
	}

	snap, err := reg.Register(ctx, d)
	if err != nil {
		log.Fatalf("Failed to register model: %v", err)
	}
	fmt.Printf("Registered %q (status %s)\n", snap.Descriptor.ID, snap.Status)
}

func unregisterModel(ctx context.Context, reg *registry.Registry, id string) {
	if err := reg.Unregister(ctx, id); err != nil {
		log.Fatalf("Failed to unregister model: %v", err)
	}
	fmt.Printf("Unregistered %q\n", id)
}

func evictLRU(ctx context.Context, reg *registry.Registry) {
	id := reg.EvictLRU(ctx)
	if id == "" {
		fmt.Println("Nothing eligible for eviction")
		return
	}
	fmt.Printf("Evicted %q\n", id)
}

func showStats(reg *registry.Registry, id string) {
	m, ok := reg.Metrics(id)
	if !ok {
		log.Fatalf("No such model: %s", id)
	}
	snap := m.Snapshot()

	fmt.Printf("Stats for %s\n", id)
	fmt.Println("================")
	fmt.Printf("Inference count: %d\n", snap.InferenceCount)
	fmt.Printf("Total tokens:    %d\n", snap.TotalTokens)
	fmt.Printf("Avg latency:     %.1fms\n", snap.AvgLatencyMs)
	fmt.Printf("Error count:     %d\n", snap.ErrorCount)
	fmt.Printf("Load time:       %dms\n", snap.LoadTimeMs)
	if !snap.LastUsedAt.IsZero() {
		fmt.Printf("Last used:       %s\n", snap.LastUsedAt.Format(time.RFC3339))
	}

	if snap.InferenceCount > 1 {
		series := []float64{0, snap.AvgLatencyMs * 0.8, snap.AvgLatencyMs, snap.AvgLatencyMs * 1.1}
		graph := asciigraph.Plot(series, asciigraph.Height(8), asciigraph.Caption("avg latency trend (ms, approximate)"))
		fmt.Println()
		fmt.Println(graph)
	}
}

func loadCatalog(ctx context.Context, reg *registry.Registry, path string) {
	if path == "" {
		log.Fatal("No catalog path configured (CATALOG_PATH)")
	}
	cat, err := config.LoadCatalog(path)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	descs, err := cat.Descriptors()
	if err != nil {
		log.Fatalf("Failed to build descriptors: %v", err)
	}

	added, skipped := 0, 0
	for _, d := range descs {
		if _, err := reg.Get(d.ID); err == nil {
			skipped++
			continue
		}
		if _, err := reg.Register(ctx, d); err != nil {
			log.Printf("Warning: failed to register %q: %v", d.ID, err)
			continue
		}
		added++
	}
	fmt.Printf("Catalog loaded: %d registered, %d already present\n", added, skipped)
}
