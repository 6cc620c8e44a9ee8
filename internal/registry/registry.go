// Package registry persists named source layouts in a bbolt database,
// so survey results can be reused across estimation runs without a
// full SQL store.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/radio"
)

// ErrNotFound is returned when a requested site does not exist.
var ErrNotFound = errors.New("site not found")

const sitesBucket = "sites"

type Registry struct {
	db *bolt.DB
}

// Open opens or creates the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sitesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise registry buckets: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// Site is a named source layout.
type Site struct {
	Name      string
	Dim       int
	UpdatedAt time.Time
	Sources   []radio.Source
}

// storedSite is the JSON wire form. Covariances travel as row-major
// matrices because mat.SymDense does not marshal.
type storedSite struct {
	Name      string         `json:"name"`
	Dim       int            `json:"dim"`
	UpdatedAt time.Time      `json:"updated_at"`
	Sources   []storedSource `json:"sources"`
}

type storedSource struct {
	ID          string    `json:"id"`
	FrequencyHz float64   `json:"frequency_hz"`
	Position    []float64 `json:"position"`
	Covariance  []float64 `json:"covariance,omitempty"`
}

// SaveSite validates and stores the site, overwriting any previous
// layout of the same name. UpdatedAt is set to the current time.
func (r *Registry) SaveSite(site *Site) error {
	if site.Name == "" {
		return errors.New("site name must not be empty")
	}
	if site.Dim != 2 && site.Dim != 3 {
		return fmt.Errorf("site %s: dimension %d not supported", site.Name, site.Dim)
	}
	for i, s := range site.Sources {
		if err := s.Validate(site.Dim); err != nil {
			return fmt.Errorf("site %s: source %d: %w", site.Name, i, err)
		}
	}

	site.UpdatedAt = time.Now().UTC()
	blob, err := json.Marshal(toStored(site))
	if err != nil {
		return fmt.Errorf("failed to encode site %s: %w", site.Name, err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sitesBucket)).Put([]byte(site.Name), blob)
	})
}

// GetSite loads one site by name.
func (r *Registry) GetSite(name string) (*Site, error) {
	var blob []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(sitesBucket)).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var stored storedSite
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode site %s: %w", name, err)
	}
	return fromStored(&stored)
}

// ListSites returns all site names in lexical order.
func (r *Registry) ListSites() ([]string, error) {
	var names []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sitesBucket)).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// DeleteSite removes a site by name.
func (r *Registry) DeleteSite(name string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sitesBucket))
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return b.Delete([]byte(name))
	})
}

func toStored(site *Site) *storedSite {
	s := &storedSite{
		Name:      site.Name,
		Dim:       site.Dim,
		UpdatedAt: site.UpdatedAt,
		Sources:   make([]storedSource, len(site.Sources)),
	}
	for i, src := range site.Sources {
		s.Sources[i] = storedSource{
			ID:          src.ID,
			FrequencyHz: src.FrequencyHz,
			Position:    src.Position,
			Covariance:  flattenSym(src.PositionCovariance),
		}
	}
	return s
}

func fromStored(stored *storedSite) (*Site, error) {
	site := &Site{
		Name:      stored.Name,
		Dim:       stored.Dim,
		UpdatedAt: stored.UpdatedAt,
		Sources:   make([]radio.Source, len(stored.Sources)),
	}
	for i, src := range stored.Sources {
		cov, err := unflattenSym(src.Covariance, stored.Dim)
		if err != nil {
			return nil, fmt.Errorf("site %s: source %s: %w", stored.Name, src.ID, err)
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

func flattenSym(m *mat.SymDense) []float64 {
	if m == nil {
		return nil
	}
	n := m.SymmetricDim()
	out := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func unflattenSym(data []float64, dim int) (*mat.SymDense, error) {
	if data == nil {
		return nil, nil
	}
	if len(data) != dim*dim {
		return nil, fmt.Errorf("covariance has %d values, want %d", len(data), dim*dim)
	}
	return mat.NewSymDense(dim, data), nil
}
