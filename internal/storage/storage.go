// Package storage persists known BLE controllers and the last connected
// set as JSON files under the user config directory.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/isaacs-12/nso-gc-bridge/internal/configpaths"
)

const (
	controllersFile   = "controllers.json"
	lastConnectedFile = "last_connected.json"
)

// Controller is one remembered BLE controller.
type Controller struct {
	Address string    `json:"address"`
	Name    string    `json:"name,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Store reads and writes the persistence files. Dir overrides the
// location, mainly for tests; empty means the standard config directory.
type Store struct {
	Dir string
}

func (s *Store) dir() (string, error) {
	if s.Dir != "" {
		return s.Dir, nil
	}
	dir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return dir, os.MkdirAll(dir, 0o755)
}

func (s *Store) load(name string, out any) error {
	dir, err := s.dir()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

func (s *Store) save(name string, v any) error {
	dir, err := s.dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// List returns the remembered controllers, oldest first.
func (s *Store) List() ([]Controller, error) {
	var out []Controller
	err := s.load(controllersFile, &out)
	return out, err
}

// Add remembers a controller. Adding an already known address updates its
// name and leaves the original AddedAt alone.
func (s *Store) Add(address, name string) error {
	address = strings.ToUpper(address)
	list, err := s.List()
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].Address == address {
			list[i].Name = name
			return s.save(controllersFile, list)
		}
	}
	list = append(list, Controller{Address: address, Name: name, AddedAt: time.Now().UTC()})
	return s.save(controllersFile, list)
}

// Remove forgets a controller. Removing an unknown address is not an
// error.
func (s *Store) Remove(address string) error {
	address = strings.ToUpper(address)
	list, err := s.List()
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, c := range list {
		if c.Address != address {
			kept = append(kept, c)
		}
	}
	return s.save(controllersFile, kept)
}

// LastConnected returns the addresses that were attached when the bridge
// last ran, keyed by slot.
func (s *Store) LastConnected() (map[byte]string, error) {
	raw := make(map[string]string)
	if err := s.load(lastConnectedFile, &raw); err != nil {
		return nil, err
	}
	out := make(map[byte]string, len(raw))
	for k, v := range raw {
		var slot byte
		if _, err := fmt.Sscanf(k, "%d", &slot); err == nil {
			out[slot] = v
		}
	}
	return out, nil
}

// SetLastConnected replaces the last connected set.
func (s *Store) SetLastConnected(slots map[byte]string) error {
	raw := make(map[string]string, len(slots))
	for slot, addr := range slots {
		raw[fmt.Sprintf("%d", slot)] = addr
	}
	return s.save(lastConnectedFile, raw)
}
