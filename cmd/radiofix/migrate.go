package main

import (
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/radiofix/internal/store"
)

// runMigrateCommand handles the 'migrate' subcommand dispatching.
func runMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		printMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	if action == "help" {
		printMigrateHelp()
		return
	}

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open run store: %v", err)
	}
	defer st.Close()

	switch action {
	case "up":
		handleMigrateUp(st)

	case "down":
		handleMigrateDown(st)

	case "status":
		handleMigrateStatus(st)

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: radiofix migrate force <version_number>")
		}
		handleMigrateForce(st, args[1])

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		printMigrateHelp()
		os.Exit(1)
	}
}

// handleMigrateUp applies all pending migrations
func handleMigrateUp(st *store.Store) {
	log.Printf("Running migrations...")
	if err := st.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✓ All migrations applied successfully")

	// Show current version
	version, dirty, _ := st.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateDown rolls back one migration
func handleMigrateDown(st *store.Store) {
	log.Printf("Rolling back one migration...")
	if err := st.MigrateDown(); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("✓ Migration rolled back successfully")

	// Show current version
	version, dirty, _ := st.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateStatus displays the current migration status
func handleMigrateStatus(st *store.Store) {
	version, dirty, err := st.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Current version: %d\n", version)
	fmt.Printf("Dirty: %v\n", dirty)

	if dirty {
		fmt.Println("\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution. You may need to:")
		fmt.Println("  1. Inspect the database manually")
		fmt.Println("  2. Fix any issues")
		fmt.Println("  3. Run: radiofix migrate force <version>")
	}
}

// handleMigrateForce forces the migration version (recovery only)
func handleMigrateForce(st *store.Store, versionStr string) {
	var forceVersion int
	if _, err := fmt.Sscanf(versionStr, "%d", &forceVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	fmt.Printf("⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Println("This should only be used to recover from a dirty migration state.")
	fmt.Print("Continue? [y/N]: ")

	var response string
	fmt.Scanln(&response)
	if response != "y" && response != "Y" {
		log.Println("Aborted")
		os.Exit(0)
	}

	if err := st.MigrateForce(forceVersion); err != nil {
		log.Fatalf("Force migration failed: %v", err)
	}
	log.Printf("✓ Migration version forced to %d", forceVersion)
}

func printMigrateHelp() {
	fmt.Println("Run Database Migration Commands")
	fmt.Println()
	fmt.Println("Usage: radiofix migrate <command> [-db runs.db]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up              Apply all pending migrations")
	fmt.Println("  down            Rollback one migration")
	fmt.Println("  status          Show current migration status and version")
	fmt.Println("  force <N>       Force migration version to N (recovery only)")
	fmt.Println("  help            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  radiofix migrate up")
	fmt.Println("  radiofix migrate status")
	fmt.Println("  radiofix migrate force 1")
}
