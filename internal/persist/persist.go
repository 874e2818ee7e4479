// Package persist implements the shadow model's sidecar persistence layer
// (SPEC_FULL.md §4.6): on clean unmount the model's tables are serialized to
// a handful of sidecar files in a caller-supplied directory (internal/mountrunner
// passes the base directory), and on the
// next mount they are reloaded if a sentinel file is present.
package persist

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chordtoll/posinvck-go/internal/shadow"
)

const (
	pathFile    = "fs.path"
	metaFile    = "fs.meta"
	dirsFile    = "fs.dirs"
	dataFile    = "fs.data"
	dataIndexFile = "fs.data.index"
	xattrFile   = "fs.xattr"
	sentinelFile = "fs.contents"
)

type pathsDoc struct {
	Inodes map[uint64][]string `yaml:"inodes"`
}

type metaDoc struct {
	Inodes map[uint64]shadow.FileAttr `yaml:"inodes"`
}

// escapeName round-trips arbitrary byte sequences (including "/" and
// non-UTF8 bytes) through a YAML string key, per SPEC_FULL.md §4.6's
// "names are byte-escaped" requirement.
func escapeName(name string) string {
	return base64.StdEncoding.EncodeToString([]byte(name))
}

func unescapeName(encoded string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type dirsDoc struct {
	Dirs map[uint64]map[string]uint64 `yaml:"dirs"`
}

type xattrDoc struct {
	Inodes map[uint64]map[string]string `yaml:"inodes"`
}

type dataIndexEntry struct {
	Offset int64 `yaml:"offset"`
	Length int64 `yaml:"length"`
}

type dataIndexDoc struct {
	Index map[uint64]dataIndexEntry `yaml:"index"`
}

type sentinelDoc struct {
	SessionID string `yaml:"session_id"`
}

// Save writes every enabled shadow table to its sidecar file under dir,
// finishing with the fs.contents sentinel (written last, per SPEC_FULL.md
// §4.6).
func Save(dir string, model *shadow.Model, snapshot Snapshot) error {
	if err := writeYAML(filepath.Join(dir, pathFile), pathsDoc{Inodes: snapshot.Paths}); err != nil {
		return err
	}
	if snapshot.Meta != nil {
		if err := writeYAML(filepath.Join(dir, metaFile), metaDoc{Inodes: snapshot.Meta}); err != nil {
			return err
		}
	}
	if snapshot.Dirs != nil {
		if err := writeYAML(filepath.Join(dir, dirsFile), dirsDoc{Dirs: encodeDirNames(snapshot.Dirs)}); err != nil {
			return err
		}
	}
	if snapshot.Data != nil {
		if err := saveData(dir, snapshot.Data); err != nil {
			return err
		}
	}
	if snapshot.Xattrs != nil {
		if err := writeYAML(filepath.Join(dir, xattrFile), xattrDoc{Inodes: encodeXattrs(snapshot.Xattrs)}); err != nil {
			return err
		}
	}
	return writeYAML(filepath.Join(dir, sentinelFile), sentinelDoc{SessionID: uuid.NewString()})
}

// Snapshot is the set of in-memory tables Save serializes and Load
// reconstructs; internal/mountrunner assembles one from shadow.Model before/after
// persistence operations.
type Snapshot struct {
	Paths  map[uint64][]string
	Meta   map[uint64]shadow.FileAttr
	Dirs   map[uint64]map[string]uint64
	Data   map[uint64][]byte
	Xattrs map[uint64]map[string][]byte
}

func encodeDirNames(dirs map[uint64]map[string]uint64) map[uint64]map[string]uint64 {
	out := make(map[uint64]map[string]uint64, len(dirs))
	for ino, entries := range dirs {
		encoded := make(map[string]uint64, len(entries))
		for name, child := range entries {
			encoded[escapeName(name)] = child
		}
		out[ino] = encoded
	}
	return out
}

func decodeDirNames(dirs map[uint64]map[string]uint64) (map[uint64]map[string]uint64, error) {
	out := make(map[uint64]map[string]uint64, len(dirs))
	for ino, entries := range dirs {
		decoded := make(map[string]uint64, len(entries))
		for encoded, child := range entries {
			name, err := unescapeName(encoded)
			if err != nil {
				return nil, err
			}
			decoded[name] = child
		}
		out[ino] = decoded
	}
	return out, nil
}

func encodeXattrs(xattrs map[uint64]map[string][]byte) map[uint64]map[string]string {
	out := make(map[uint64]map[string]string, len(xattrs))
	for ino, entries := range xattrs {
		encoded := make(map[string]string, len(entries))
		for name, val := range entries {
			encoded[escapeName(name)] = base64.StdEncoding.EncodeToString(val)
		}
		out[ino] = encoded
	}
	return out
}

func saveData(dir string, data map[uint64][]byte) error {
	blob := make([]byte, 0, 4096)
	index := make(map[uint64]dataIndexEntry, len(data))
	for ino, buf := range data {
		index[ino] = dataIndexEntry{Offset: int64(len(blob)), Length: int64(len(buf))}
		blob = append(blob, buf...)
	}
	if err := os.WriteFile(filepath.Join(dir, dataFile), blob, 0o644); err != nil {
		return err
	}
	return writeYAML(filepath.Join(dir, dataIndexFile), dataIndexDoc{Index: index})
}

// Load reloads a previously-Saved Snapshot from dir. Callers are expected to
// have already confirmed the sentinel file exists before calling Load.
func Load(dir string) (Snapshot, error) {
	var paths pathsDoc
	if err := readYAML(filepath.Join(dir, pathFile), &paths); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Paths: paths.Inodes}

	var meta metaDoc
	if err := readYAMLIfExists(filepath.Join(dir, metaFile), &meta); err != nil {
		return Snapshot{}, err
	}
	snap.Meta = meta.Inodes

	var dirs dirsDoc
	if err := readYAMLIfExists(filepath.Join(dir, dirsFile), &dirs); err != nil {
		return Snapshot{}, err
	}
	if dirs.Dirs != nil {
		decoded, err := decodeDirNames(dirs.Dirs)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Dirs = decoded
	}

	data, err := loadData(dir)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Data = data

	var xattrs xattrDoc
	if err := readYAMLIfExists(filepath.Join(dir, xattrFile), &xattrs); err != nil {
		return Snapshot{}, err
	}
	if xattrs.Inodes != nil {
		decoded, err := decodeXattrs(xattrs.Inodes)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Xattrs = decoded
	}

	return snap, nil
}

func decodeXattrs(in map[uint64]map[string]string) (map[uint64]map[string][]byte, error) {
	out := make(map[uint64]map[string][]byte, len(in))
	for ino, entries := range in {
		decoded := make(map[string][]byte, len(entries))
		for encodedName, encodedVal := range entries {
			name, err := unescapeName(encodedName)
			if err != nil {
				return nil, err
			}
			val, err := base64.StdEncoding.DecodeString(encodedVal)
			if err != nil {
				return nil, err
			}
			decoded[name] = val
		}
		out[ino] = decoded
	}
	return out, nil
}

func loadData(dir string) (map[uint64][]byte, error) {
	var index dataIndexDoc
	if err := readYAMLIfExists(filepath.Join(dir, dataIndexFile), &index); err != nil {
		return nil, err
	}
	if index.Index == nil {
		return nil, nil
	}
	blob, err := os.ReadFile(filepath.Join(dir, dataFile))
	if err != nil {
		return nil, err
	}
	out := make(map[uint64][]byte, len(index.Index))
	for ino, entry := range index.Index {
		out[ino] = append([]byte(nil), blob[entry.Offset:entry.Offset+entry.Length]...)
	}
	return out, nil
}

// SentinelExists reports whether dir holds a persisted session from a prior
// clean unmount.
func SentinelExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, sentinelFile))
	return err == nil
}

// DeleteSentinel removes the sentinel file, per SPEC_FULL.md §4.6's "init
// deletes the sentinel" rule: deletion succeeding (rather than merely the
// file existing) is what gates loading the rest of the sidecar set.
func DeleteSentinel(dir string) error {
	return os.Remove(filepath.Join(dir, sentinelFile))
}

func writeYAML(path string, v any) error {
	buf, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

func readYAML(path string, v any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(buf, v)
}

func readYAMLIfExists(path string, v any) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return readYAML(path, v)
}
