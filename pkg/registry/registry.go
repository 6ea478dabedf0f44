// Package registry keeps the coordinator's durable record of bound nodes
// and allocates binding identifiers. It backs the discovery engine's
// Registry interface with a JSON file, or runs purely in memory when no
// path is given.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/towerlink-protocol/towerlink-go/pkg/discovery"
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// FileVersion is the current version of the registry file format.
const FileVersion = 1

// Record is one bound node.
type Record struct {
	// ID is a stable unique identifier for this binding record. It
	// survives re-binding under a new binding identifier.
	ID string `json:"id"`

	Addr         wire.HWAddr          `json:"addr"`
	BindingID    uint16               `json:"binding_id"`
	DeviceType   wire.DeviceType      `json:"device_type"`
	Firmware     wire.FirmwareVersion `json:"firmware"`
	Capabilities wire.Capability      `json:"capabilities"`
	LinkKey      []byte               `json:"link_key,omitempty"`
	BoundAt      time.Time            `json:"bound_at"`
}

type registryFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Records []Record  `json:"records,omitempty"`
}

// Registry is the bound-node registry. All methods are safe for concurrent
// use.
type Registry struct {
	mu     sync.Mutex
	path   string // empty means memory-only
	byAddr map[wire.HWAddr]*Record
	byID   map[uint16]*Record
	nextID uint16
}

// Open loads (or initializes) a registry. An empty path keeps the registry
// in memory only.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:   path,
		byAddr: make(map[wire.HWAddr]*Record),
		byID:   make(map[uint16]*Record),
	}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	for i := range file.Records {
		rec := file.Records[i]
		r.byAddr[rec.Addr] = &rec
		r.byID[rec.BindingID] = &rec
		if rec.BindingID > r.nextID {
			r.nextID = rec.BindingID
		}
	}
	return r, nil
}

// NextBindingID returns a nonzero binding identifier not used by any
// current record.
func (r *Registry) NextBindingID() (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= 0xFFFF {
		return 0, fmt.Errorf("binding identifier space exhausted")
	}
	for {
		r.nextID++
		if r.nextID == 0 {
			r.nextID = 1
		}
		if _, used := r.byID[r.nextID]; !used {
			return r.nextID, nil
		}
	}
}

// Commit records a completed binding. A node that re-binds replaces its
// previous record but keeps its record ID.
func (r *Registry) Commit(node discovery.BoundNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	if prev, ok := r.byAddr[node.Addr]; ok {
		id = prev.ID
		delete(r.byID, prev.BindingID)
	}

	rec := &Record{
		ID:           id,
		Addr:         node.Addr,
		BindingID:    node.BindingID,
		DeviceType:   node.DeviceType,
		Firmware:     node.Firmware,
		Capabilities: node.Capabilities,
		LinkKey:      append([]byte(nil), node.LinkKey...),
		BoundAt:      node.BoundAt,
	}
	r.byAddr[node.Addr] = rec
	r.byID[node.BindingID] = rec

	return r.persistLocked()
}

// Remove deletes the record for a node. Returns false if no record exists.
func (r *Registry) Remove(addr wire.HWAddr) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byAddr[addr]
	if !ok {
		return false, nil
	}
	delete(r.byAddr, addr)
	delete(r.byID, rec.BindingID)
	return true, r.persistLocked()
}

// Lookup returns the record for a node address.
func (r *Registry) Lookup(addr wire.HWAddr) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byAddr[addr]; ok {
		return cloneRecord(rec), true
	}
	return Record{}, false
}

// ByBindingID returns the record holding a binding identifier.
func (r *Registry) ByBindingID(id uint16) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		return cloneRecord(rec), true
	}
	return Record{}, false
}

// List returns all records ordered by binding time.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.byAddr))
	for _, rec := range r.byAddr {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BoundAt.Equal(out[j].BoundAt) {
			return out[i].BindingID < out[j].BindingID
		}
		return out[i].BoundAt.Before(out[j].BoundAt)
	})
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAddr)
}

func (r *Registry) persistLocked() error {
	if r.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	file := registryFile{
		Version: FileVersion,
		SavedAt: time.Now(),
	}
	for _, rec := range r.byAddr {
		file.Records = append(file.Records, cloneRecord(rec))
	}
	sort.Slice(file.Records, func(i, j int) bool {
		return file.Records[i].BindingID < file.Records[j].BindingID
	})

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing registry: %w", err)
	}
	return nil
}

func cloneRecord(rec *Record) Record {
	out := *rec
	out.LinkKey = append([]byte(nil), rec.LinkKey...)
	return out
}

var _ discovery.Registry = (*Registry)(nil)
