// Package schema declares the versioned store layout of the journal.
//
// A Schema is an ordered list of migrations. Each migration introduces new
// stores, adds indexes to existing stores, and may carry data transforms.
// Store definitions are never edited in place: a later version that needs a
// new index adds it through IndexAddition.
package schema

import (
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/models"
)

// IndexDefinition describes a secondary index over one record field.
type IndexDefinition struct {
	Name    string
	KeyPath string
	Unique  bool
}

// StoreDefinition describes one entity store.
type StoreDefinition struct {
	Name           string
	PrimaryKeyPath string
	Indexes        []IndexDefinition

	// UserKeyPath names the field that references the owning user. Stores
	// with an empty UserKeyPath are not touched by per-user wipes.
	UserKeyPath string

	// Sensitive lists PHI fields that are field-encrypted on the plain path.
	Sensitive []string

	// Version is the schema version that introduced the store.
	Version int
}

// Index returns the index definition called name.
func (d StoreDefinition) Index(name string) (IndexDefinition, bool) {
	for _, idx := range d.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDefinition{}, false
}

// IndexAddition adds an index to a store introduced by an earlier version.
type IndexAddition struct {
	Store string
	Index IndexDefinition
}

// Transform is a data migration run inside the step's exclusive transaction.
// Name doubles as the migration marker key, so it must be unique and stable.
type Transform struct {
	Name   string
	Stores []string
	Apply  func(tx models.Tx) error
}

// Migration brings a store from Version-1 to Version.
type Migration struct {
	Version    int
	Stores     []StoreDefinition
	Indexes    []IndexAddition
	Transforms []Transform
}

// Schema is a validated, ordered list of migrations.
type Schema struct {
	migrations []Migration
}

// New validates migrations and returns the schema. Versions must start at 1
// and increase by one; stores, indexes and transform names must be unique.
func New(migrations ...Migration) (*Schema, error) {
	stores := make(map[string]map[string]struct{})
	transforms := make(map[string]struct{})

	for i, m := range migrations {
		if m.Version != i+1 {
			return nil, fmt.Errorf("migration %d: expected version %d, got %d", i, i+1, m.Version)
		}
		for _, st := range m.Stores {
			if st.Name == "" || st.PrimaryKeyPath == "" {
				return nil, fmt.Errorf("version %d: store needs a name and a primary key path", m.Version)
			}
			if _, dup := stores[st.Name]; dup {
				return nil, fmt.Errorf("version %d: store %q already defined", m.Version, st.Name)
			}
			names := make(map[string]struct{})
			for _, idx := range st.Indexes {
				if _, dup := names[idx.Name]; dup {
					return nil, fmt.Errorf("version %d: duplicate index %s.%s", m.Version, st.Name, idx.Name)
				}
				names[idx.Name] = struct{}{}
			}
			stores[st.Name] = names
		}
		for _, add := range m.Indexes {
			names, ok := stores[add.Store]
			if !ok {
				return nil, fmt.Errorf("version %d: index %q targets unknown store %q", m.Version, add.Index.Name, add.Store)
			}
			if _, dup := names[add.Index.Name]; dup {
				return nil, fmt.Errorf("version %d: duplicate index %s.%s", m.Version, add.Store, add.Index.Name)
			}
			names[add.Index.Name] = struct{}{}
		}
		for _, tr := range m.Transforms {
			if tr.Name == "" || tr.Apply == nil {
				return nil, fmt.Errorf("version %d: transform needs a name and a function", m.Version)
			}
			if _, dup := transforms[tr.Name]; dup {
				return nil, fmt.Errorf("version %d: transform %q already defined", m.Version, tr.Name)
			}
			transforms[tr.Name] = struct{}{}
		}
	}

	return &Schema{migrations: migrations}, nil
}

// MustNew is New that panics on an invalid schema.
func MustNew(migrations ...Migration) *Schema {
	s, err := New(migrations...)
	if err != nil {
		panic(err)
	}
	return s
}

// Current is the latest version the schema knows about.
func (s *Schema) Current() int {
	return len(s.migrations)
}

// Migrations returns the ordered migration list.
func (s *Schema) Migrations() []Migration {
	return s.migrations
}

// Step returns the migration that produces version v.
func (s *Schema) Step(v int) (Migration, bool) {
	if v < 1 || v > len(s.migrations) {
		return Migration{}, false
	}
	return s.migrations[v-1], true
}

// StoresAt returns every store as it exists at version v, in introduction
// order, with indexes added by later migrations up to v folded in.
func (s *Schema) StoresAt(v int) []StoreDefinition {
	var out []StoreDefinition
	pos := make(map[string]int)

	for _, m := range s.migrations {
		if m.Version > v {
			break
		}
		for _, st := range m.Stores {
			st.Version = m.Version
			st.Indexes = append([]IndexDefinition(nil), st.Indexes...)
			pos[st.Name] = len(out)
			out = append(out, st)
		}
		for _, add := range m.Indexes {
			i := pos[add.Store]
			out[i].Indexes = append(out[i].Indexes, add.Index)
		}
	}
	return out
}

// Stores is StoresAt(Current()).
func (s *Schema) Stores() []StoreDefinition {
	return s.StoresAt(s.Current())
}

// Store returns the current definition of the named store.
func (s *Schema) Store(name string) (StoreDefinition, bool) {
	for _, st := range s.Stores() {
		if st.Name == name {
			return st, true
		}
	}
	return StoreDefinition{}, false
}
