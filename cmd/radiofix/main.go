// Command radiofix runs one position-estimation scenario end to end:
// it assembles a fingerprint (simulated, from a pcap capture, or from a
// live serial ranging tag), runs the robust estimator, persists the run,
// and renders report artifacts.
//
// Usage:
//
//	radiofix -config scenario.yaml
//	radiofix migrate <up|down|status|force N> [-db runs.db]
//	radiofix runs <list|show|delete> [args] [-db runs.db]
//	radiofix site <import|list|show|delete> [args] [-registry sites.db]
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
)

var (
	configPath   = flag.String("config", "", "Path to the scenario YAML file")
	dbPath       = flag.String("db", "runs.db", "Run database path (migrate subcommand)")
	registryPath = flag.String("registry", "sites.db", "Site registry path (site subcommand)")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			runMigrateCommand(args[1:], *dbPath)
			return
		case "runs":
			runRunsCommand(args[1:], *dbPath)
			return
		case "site":
			runSiteCommand(args[1:], *registryPath)
			return
		default:
			log.Fatalf("unknown command %q (want migrate, runs, or site)", args[0])
		}
	}

	if *configPath == "" {
		log.Fatal("no scenario file provided, use -config")
	}

	sc, err := LoadScenario(*configPath)
	if err != nil {
		log.Fatalf("failed to load scenario: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runScenario(ctx, sc); err != nil {
		log.Fatalf("scenario failed: %v", err)
	}
}
