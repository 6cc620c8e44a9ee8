package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/radiofix/internal/store"
)

const defaultRunsLimit = 20

// runRunsCommand handles the 'runs' subcommand dispatching.
func runRunsCommand(args []string, dbPath string) {
	if len(args) < 1 {
		printRunsHelp()
		os.Exit(1)
	}

	action := args[0]

	if action == "help" {
		printRunsHelp()
		return
	}

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open run store: %v", err)
	}
	defer st.Close()

	switch action {
	case "list":
		limit := defaultRunsLimit
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &limit); err != nil || limit < 1 {
				log.Fatalf("Invalid limit: %s", args[1])
			}
		}
		handleRunsList(st, limit)

	case "show":
		if len(args) < 2 {
			log.Fatal("Usage: radiofix runs show <run_id>")
		}
		handleRunsShow(st, args[1])

	case "delete":
		if len(args) < 2 {
			log.Fatal("Usage: radiofix runs delete <run_id>")
		}
		handleRunsDelete(st, args[1])

	default:
		fmt.Printf("Unknown runs action: %s\n\n", action)
		printRunsHelp()
		os.Exit(1)
	}
}

// handleRunsList prints one summary line per stored run, newest first.
func handleRunsList(st *store.Store, limit int) {
	runs, err := st.ListRuns(limit)
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return
	}
	for _, r := range runs {
		fmt.Println(runSummaryLine(r))
	}
}

// handleRunsShow prints one run with its readings.
func handleRunsShow(st *store.Store, id string) {
	r, err := st.GetRun(id)
	if err != nil {
		log.Fatalf("Failed to load run: %v", err)
	}

	fmt.Printf("Run: %s\n", r.ID)
	if r.Label != "" {
		fmt.Printf("Label: %s\n", r.Label)
	}
	fmt.Printf("Created: %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Dimension: %d\n", r.Dim)
	fmt.Printf("Sources: %d\n", r.NumSources)
	fmt.Printf("Position: %v\n", r.Position)
	if r.Truth != nil {
		fmt.Printf("Truth: %v (error %.6g m)\n", r.Truth, r.Position.DistanceTo(r.Truth))
	}
	fmt.Printf("Score: %.6g\n", r.Score)
	fmt.Printf("Iterations: %s\n", humanize.Comma(int64(r.Iterations)))
	fmt.Printf("Refined: %v\n", r.Refined)
	fmt.Printf("Inliers: %d/%d\n", r.NumInliers, len(r.Readings))
	fmt.Printf("Duration: %s\n", r.Duration.Round(time.Millisecond))
	if r.Covariance != nil {
		fmt.Printf("Covariance: %v\n", r.Covariance)
	}

	if len(r.Readings) > 0 {
		fmt.Println("Readings:")
		for _, rd := range r.Readings {
			marker := " "
			if !rd.Inlier {
				marker = "x"
			}
			fmt.Printf("  %s %-8s %s distance=%.3f stddev=%.3f quality=%.2f residual=%+.3f\n",
				marker, rd.Kind, rd.SourceID, rd.Distance, rd.StdDev, rd.Quality, rd.Residual)
		}
	}
}

// handleRunsDelete removes one run and its readings.
func handleRunsDelete(st *store.Store, id string) {
	if err := st.DeleteRun(id); err != nil {
		log.Fatalf("Failed to delete run: %v", err)
	}
	log.Printf("✓ Run %s deleted", id)
}

// runSummaryLine formats one run for the list output.
func runSummaryLine(r store.Run) string {
	label := r.Label
	if label == "" {
		label = "(unlabelled)"
	}
	return fmt.Sprintf("%s  %s  %dD  %d sources  score %.6g  %d inliers  %s",
		r.ID, r.CreatedAt.Format(time.RFC3339), r.Dim, r.NumSources,
		r.Score, r.NumInliers, label)
}

func printRunsHelp() {
	fmt.Println("Stored Run Commands")
	fmt.Println()
	fmt.Println("Usage: radiofix runs <command> [-db runs.db]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list [N]        List the N newest runs (default 20)")
	fmt.Println("  show <id>       Print one run with its readings")
	fmt.Println("  delete <id>     Remove a run")
	fmt.Println("  help            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  radiofix runs list 5")
	fmt.Println("  radiofix runs show 2f9c8a44-1b7e-4d7c-9f20-3c1d2e4f5a6b")
}
