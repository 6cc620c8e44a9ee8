package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/internal/registry"
	"github.com/banshee-data/radiofix/radio"
)

// siteFile is the YAML form of a surveyed source layout.
type siteFile struct {
	Name    string           `yaml:"name"`
	Dim     int              `yaml:"dim"`
	Sources []siteFileSource `yaml:"sources"`
}

type siteFileSource struct {
	ID          string    `yaml:"id"`
	FrequencyHz float64   `yaml:"frequencyHz,omitempty"`
	Position    []float64 `yaml:"position"`

	// Covariance is the row-major dim x dim survey uncertainty.
	Covariance []float64 `yaml:"covariance,omitempty"`
}

// runSiteCommand handles the 'site' subcommand dispatching.
func runSiteCommand(args []string, registryPath string) {
	if len(args) < 1 {
		printSiteHelp()
		os.Exit(1)
	}

	action := args[0]

	if action == "help" {
		printSiteHelp()
		return
	}

	reg, err := registry.Open(registryPath)
	if err != nil {
		log.Fatalf("Failed to open site registry: %v", err)
	}
	defer reg.Close()

	switch action {
	case "import":
		if len(args) < 2 {
			log.Fatal("Usage: radiofix site import <site.yaml>")
		}
		handleSiteImport(reg, args[1])

	case "list":
		handleSiteList(reg)

	case "show":
		if len(args) < 2 {
			log.Fatal("Usage: radiofix site show <name>")
		}
		handleSiteShow(reg, args[1])

	case "delete":
		if len(args) < 2 {
			log.Fatal("Usage: radiofix site delete <name>")
		}
		handleSiteDelete(reg, args[1])

	default:
		fmt.Printf("Unknown site action: %s\n\n", action)
		printSiteHelp()
		os.Exit(1)
	}
}

// handleSiteImport loads a YAML layout file and stores it.
func handleSiteImport(reg *registry.Registry, path string) {
	site, err := loadSiteFile(path)
	if err != nil {
		log.Fatalf("Failed to load site file: %v", err)
	}
	if err := reg.SaveSite(site); err != nil {
		log.Fatalf("Failed to save site: %v", err)
	}
	log.Printf("✓ Site %s imported (%d sources, %dD)", site.Name, len(site.Sources), site.Dim)
}

// handleSiteList prints all site names.
func handleSiteList(reg *registry.Registry) {
	names, err := reg.ListSites()
	if err != nil {
		log.Fatalf("Failed to list sites: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No sites in registry")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

// handleSiteShow prints one site's source layout.
func handleSiteShow(reg *registry.Registry, name string) {
	site, err := reg.GetSite(name)
	if err != nil {
		log.Fatalf("Failed to load site: %v", err)
	}

	fmt.Printf("Site: %s\n", site.Name)
	fmt.Printf("Dimension: %d\n", site.Dim)
	fmt.Printf("Updated: %s\n", site.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Sources: %d\n", len(site.Sources))
	for _, src := range site.Sources {
		line := fmt.Sprintf("  %s position=%v", src.ID, []float64(src.Position))
		if src.FrequencyHz != 0 {
			line += fmt.Sprintf(" freq=%.0fHz", src.FrequencyHz)
		}
		if src.PositionCovariance != nil {
			line += " (surveyed covariance)"
		}
		fmt.Println(line)
	}
}

// handleSiteDelete removes a site by name.
func handleSiteDelete(reg *registry.Registry, name string) {
	if err := reg.DeleteSite(name); err != nil {
		log.Fatalf("Failed to delete site: %v", err)
	}
	log.Printf("✓ Site %s deleted", name)
}

// loadSiteFile parses and converts a YAML site layout. Unknown keys are
// rejected so typos surface instead of silently dropping fields.
func loadSiteFile(path string) (*registry.Site, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("site file must have .yaml or .yml extension, got %q", ext)
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open site file: %w", err)
	}
	defer f.Close()

	var sf siteFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("failed to parse site YAML: %w", err)
	}
	return sf.toSite()
}

// toSite converts the wire form into a registry site. SaveSite performs
// the full validation pass.
func (sf *siteFile) toSite() (*registry.Site, error) {
	site := &registry.Site{
		Name:    sf.Name,
		Dim:     sf.Dim,
		Sources: make([]radio.Source, len(sf.Sources)),
	}
	for i, src := range sf.Sources {
		var cov *mat.SymDense
		if len(src.Covariance) > 0 {
			if len(src.Covariance) != sf.Dim*sf.Dim {
				return nil, fmt.Errorf("source %s: covariance has %d values, want %d", src.ID, len(src.Covariance), sf.Dim*sf.Dim)
			}
			cov = mat.NewSymDense(sf.Dim, src.Covariance)
		}
		site.Sources[i] = radio.Source{
			ID:                 src.ID,
			FrequencyHz:        src.FrequencyHz,
			Position:           geom.Point(src.Position),
			PositionCovariance: cov,
		}
	}
	return site, nil
}

func printSiteHelp() {
	fmt.Println("Site Registry Commands")
	fmt.Println()
	fmt.Println("Usage: radiofix site <command> [-registry sites.db]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  import <file>   Import a YAML source layout")
	fmt.Println("  list            List all site names")
	fmt.Println("  show <name>     Print one site's sources")
	fmt.Println("  delete <name>   Remove a site")
	fmt.Println("  help            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  radiofix site import lab.yaml")
	fmt.Println("  radiofix site show lab")
}
