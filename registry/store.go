package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/session"
)

const (
	machineSnapshotDir = "machine_snapshots"
	rentalLogDir       = "rental_logs"
	registryFile       = "rental_snapshot.json"
)

// Store persists monitor state under a single directory:
//
//	machine_snapshots/<id>.json   last machine snapshot, per machine
//	rental_snapshot.json          every machine's registry
//	rental_logs/<ts>_client_<id>.json  one file per finalized session
//
// Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated snapshot behind.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (st *Store) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.WithStack(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp.Name(), path))
}

// LoadRegistries reads the registry snapshot for every machine. A missing
// file yields an empty map; a corrupt one returns an error so the caller
// can decide whether to start fresh.
func (st *Store) LoadRegistries() (map[int64]*Registry, error) {
	out := make(map[int64]*Registry)

	data, err := os.ReadFile(filepath.Join(st.dir, registryFile))
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var raw map[string]*Registry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse registry snapshot")
	}

	for key, reg := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad machine key %q in registry snapshot", key)
		}
		if reg.GPUs == nil {
			reg.GPUs = make(map[int]string)
		}
		if reg.Sessions == nil {
			reg.Sessions = make(map[string]*session.Session)
		}
		reg.MachineID = id
		out[id] = reg
	}
	return out, nil
}

// SaveRegistries atomically replaces the registry snapshot.
func (st *Store) SaveRegistries(regs map[int64]*Registry) error {
	raw := make(map[string]*Registry, len(regs))
	for id, reg := range regs {
		raw[strconv.FormatInt(id, 10)] = reg
	}
	return st.writeJSON(filepath.Join(st.dir, registryFile), raw)
}

// LoadMachineSnapshot returns the last stored snapshot for a machine, or
// nil if none exists yet.
func (st *Store) LoadMachineSnapshot(id int64) (*api.Machine, error) {
	path := filepath.Join(st.dir, machineSnapshotDir, fmt.Sprintf("%d.json", id))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var m api.Machine
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to parse snapshot for machine %d", id)
	}
	return &m, nil
}

// SaveMachineSnapshot atomically replaces a machine's snapshot.
func (st *Store) SaveMachineSnapshot(m *api.Machine) error {
	path := filepath.Join(st.dir, machineSnapshotDir, fmt.Sprintf("%d.json", m.MachineID))
	return st.writeJSON(path, m)
}

// ArchiveSession writes a finalized session to the rental log. The file
// name carries the end time so logs sort chronologically.
func (st *Store) ArchiveSession(s *session.Session) error {
	ts := time.Now().UTC()
	if s.EndTime != nil {
		ts = s.EndTime.UTC()
	}
	name := fmt.Sprintf("%s_client_%s.json", ts.Format("20060102T150405"), s.ID)
	return st.writeJSON(filepath.Join(st.dir, rentalLogDir, name), s)
}

// Dir returns the store's root directory.
func (st *Store) Dir() string {
	return st.dir
}
