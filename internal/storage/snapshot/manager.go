package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/storage"
	"github.com/yndnr/deltamesh-go/pkg/crypto/adaptive"
)

var magicBytes = []byte("DLTMSNAP")

const (
	filePrefix    = "snapshot-"
	fileExtension = ".snap"
	checksumSize  = 32
	headerVersion = 1

	DefaultRetentionCount = 5
	DefaultRetentionDays  = 7
)

var (
	ErrInvalidMagic     = domain.ErrSnapshotCorrupt.WithDetails("invalid magic bytes")
	ErrChecksumMismatch = domain.ErrSnapshotCorrupt.WithDetails("checksum mismatch")
	ErrNoSnapshots      = domain.ErrSnapshotNotFound.WithDetails("no snapshots available")
)

type header struct {
	Version   int    `json:"version"`
	CreatedAt int64  `json:"created_at"`
	NodeID    string `json:"node_id,omitempty"`
	Objects   int    `json:"objects"`
	Encrypted bool   `json:"encrypted"`
	KDF       string `json:"kdf,omitempty"`
	Salt      []byte `json:"salt,omitempty"`
}

// Config configures a Manager.
type Config struct {
	Dir string

	// RetentionCount keeps the newest N snapshots. RetentionDays keeps
	// every snapshot younger than N days. Prune keeps the union and
	// never removes the newest snapshot.
	RetentionCount int
	RetentionDays  int

	Encryption Encryption
	NodeID     string
}

// DefaultConfig returns a configuration with default retention.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
	}
}

// Manager creates, lists, loads and prunes snapshot files in one
// directory.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager validates cfg. The directory is created on the first
// Create.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("snapshot dir is required")
	}
	if err := cfg.Encryption.validate(); err != nil {
		return nil, err
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &Manager{cfg: cfg, now: time.Now}, nil
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.cfg.Dir }

// Info describes one snapshot file.
type Info struct {
	ID        string    `json:"id"`
	Objects   int       `json:"objects"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Encrypted bool      `json:"encrypted"`
	NodeID    string    `json:"node_id,omitempty" table:"wide"`
	Checksum  string    `json:"checksum,omitempty" table:"wide"`
	Path      string    `json:"path" table:"wide"`
}

// Create writes records to a new snapshot file. The file appears under
// its final name only once complete.
func (m *Manager) Create(records []*storage.Record) (*Info, error) {
	if err := os.MkdirAll(m.cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	now := m.now()
	id := newID(now)

	hdr := header{
		Version:   headerVersion,
		CreatedAt: now.UnixMilli(),
		NodeID:    m.cfg.NodeID,
		Objects:   len(records),
		Encrypted: m.cfg.Encryption.enabled(),
	}

	var data bytes.Buffer
	var frameLen [4]byte
	for _, rec := range records {
		b, err := storage.EncodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("snapshot: encode %s: %w", rec.ID, err)
		}
		binary.BigEndian.PutUint32(frameLen[:], uint32(len(b)))
		data.Write(frameLen[:])
		data.Write(b)
	}
	payload := data.Bytes()

	var key []byte
	if hdr.Encrypted {
		var err error
		key, hdr.KDF, hdr.Salt, err = m.cfg.Encryption.newSealKey()
		if err != nil {
			return nil, fmt.Errorf("snapshot: derive key: %w", err)
		}
	}

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}

	if hdr.Encrypted {
		sealer, err := adaptive.NewSealer(key)
		if err != nil {
			return nil, fmt.Errorf("snapshot: create sealer: %w", err)
		}
		payload, err = sealer.Seal(payload, hdrJSON)
		if err != nil {
			return nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
	}

	tempPath := filepath.Join(m.cfg.Dir, id+".tmp")
	sum, err := writeFile(tempPath, hdrJSON, payload)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}

	finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}

	return &Info{
		ID:        id,
		Objects:   len(records),
		CreatedAt: time.UnixMilli(hdr.CreatedAt),
		Size:      stat.Size(),
		Encrypted: hdr.Encrypted,
		NodeID:    m.cfg.NodeID,
		Checksum:  hex.EncodeToString(sum),
		Path:      finalPath,
	}, nil
}

func writeFile(path string, hdrJSON, payload []byte) ([]byte, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}

	hash := sha256.New()
	w := bufio.NewWriter(io.MultiWriter(file, hash))

	var n [4]byte
	w.Write(magicBytes)
	binary.BigEndian.PutUint32(n[:], uint32(len(hdrJSON)))
	w.Write(n[:])
	w.Write(hdrJSON)
	binary.BigEndian.PutUint32(n[:], uint32(len(payload)))
	w.Write(n[:])
	w.Write(payload)
	if err := w.Flush(); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: write: %w", err)
	}

	// The trailer is not part of the hash.
	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close: %w", err)
	}
	return sum, nil
}

// Load reads the newest valid snapshot. Corrupt snapshots are skipped in
// favour of older ones.
func (m *Manager) Load() ([]*storage.Record, *Info, error) {
	snapshots, err := m.List()
	if err != nil {
		return nil, nil, err
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		records, info, err := m.loadFile(snapshots[i].Path)
		if err == nil {
			return records, info, nil
		}
		if errors.Is(err, domain.ErrSnapshotCorrupt) {
			continue
		}
		return nil, nil, err
	}
	return nil, nil, ErrNoSnapshots
}

// Open reads the snapshot with id.
func (m *Manager) Open(id string) ([]*storage.Record, *Info, error) {
	id = strings.TrimSuffix(id, fileExtension)
	if !validID(id) {
		return nil, nil, domain.ErrSnapshotNotFound.WithDetails(id)
	}

	records, info, err := m.loadFile(filepath.Join(m.cfg.Dir, id+fileExtension))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, domain.ErrSnapshotNotFound.WithDetails(id)
	}
	return records, info, err
}

func (m *Manager) loadFile(path string) ([]*storage.Record, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if stat.Size() < int64(len(magicBytes))+8+checksumSize {
		return nil, nil, ErrChecksumMismatch
	}

	bodyLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, bodyLen, checksumSize), expected); err != nil {
		return nil, nil, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, bodyLen)); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, bodyLen))
	hdr, hdrJSON, err := readHeader(br)
	if err != nil {
		return nil, nil, err
	}

	payload, err := readBlock(br, bodyLen)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case hdr.Encrypted:
		key, err := m.cfg.Encryption.openKey(hdr.KDF, hdr.Salt)
		if err != nil {
			return nil, nil, err
		}
		sealer, err := adaptive.NewSealer(key)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot: create sealer: %w", err)
		}
		payload, err = sealer.Open(payload, hdrJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot: decrypt: %w", err)
		}
	case m.cfg.Encryption.enabled():
		return nil, nil, ErrNotEncrypted
	}

	records, err := decodeFrames(payload)
	if err != nil {
		return nil, nil, err
	}
	if len(records) != hdr.Objects {
		return nil, nil, domain.ErrSnapshotCorrupt.WithDetails(
			fmt.Sprintf("header counts %d objects, data holds %d", hdr.Objects, len(records)))
	}

	return records, &Info{
		ID:        strings.TrimSuffix(filepath.Base(path), fileExtension),
		Objects:   hdr.Objects,
		CreatedAt: time.UnixMilli(hdr.CreatedAt),
		Size:      stat.Size(),
		Encrypted: hdr.Encrypted,
		NodeID:    hdr.NodeID,
		Checksum:  hex.EncodeToString(expected),
		Path:      path,
	}, nil
}

func readHeader(r io.Reader) (*header, []byte, error) {
	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, ErrInvalidMagic
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, nil, ErrInvalidMagic
	}

	hdrJSON, err := readBlock(r, 1<<20)
	if err != nil {
		return nil, nil, err
	}
	if len(hdrJSON) == 0 {
		return nil, nil, domain.ErrSnapshotCorrupt.WithDetails("empty header")
	}

	var hdr header
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, domain.ErrSnapshotCorrupt.WithCause(fmt.Errorf("unmarshal header: %w", err))
	}
	if hdr.Version != headerVersion {
		return nil, nil, fmt.Errorf("snapshot: unsupported header version %d", hdr.Version)
	}
	return &hdr, hdrJSON, nil
}

// readBlock reads one length-prefixed block no longer than limit.
func readBlock(r io.Reader, limit int64) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, domain.ErrSnapshotCorrupt.WithCause(err)
	}
	size := int64(binary.BigEndian.Uint32(n[:]))
	if size > limit {
		return nil, domain.ErrSnapshotCorrupt.WithDetails(fmt.Sprintf("block of %d bytes exceeds file", size))
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, domain.ErrSnapshotCorrupt.WithCause(err)
	}
	return b, nil
}

func decodeFrames(data []byte) ([]*storage.Record, error) {
	var records []*storage.Record
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		frame, err := readBlock(r, int64(r.Len()))
		if err != nil {
			return nil, err
		}
		rec, err := storage.DecodeRecord(frame)
		if err != nil {
			return nil, domain.ErrSnapshotCorrupt.WithCause(err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// List returns the snapshots oldest first. Header fields are filled when
// the header is readable; content is not verified.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), fileExtension)
		if ok && !e.IsDir() && validID(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	infos := make([]*Info, 0, len(ids))
	for _, id := range ids {
		path := filepath.Join(m.cfg.Dir, id+fileExtension)
		info, err := statSnapshot(path)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func statSnapshot(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	info := &Info{
		ID:   strings.TrimSuffix(filepath.Base(path), fileExtension),
		Size: stat.Size(),
		Path: path,
	}
	if hdr, _, err := readHeader(bufio.NewReader(f)); err == nil {
		info.Objects = hdr.Objects
		info.CreatedAt = time.UnixMilli(hdr.CreatedAt)
		info.Encrypted = hdr.Encrypted
		info.NodeID = hdr.NodeID
	}
	return info, nil
}

// Prune applies the retention policy and returns the removed snapshots.
func (m *Manager) Prune() ([]*Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(infos) <= 1 {
		return nil, nil
	}

	keep := make(map[string]struct{}, len(infos))
	if m.cfg.RetentionCount > 0 {
		start := max(len(infos)-m.cfg.RetentionCount, 0)
		for _, info := range infos[start:] {
			keep[info.Path] = struct{}{}
		}
	}
	if m.cfg.RetentionDays > 0 {
		cutoff := m.now().AddDate(0, 0, -m.cfg.RetentionDays)
		for _, info := range infos {
			if createdAt(info).After(cutoff) {
				keep[info.Path] = struct{}{}
			}
		}
	}
	keep[infos[len(infos)-1].Path] = struct{}{}

	var removed []*Info
	for _, info := range infos {
		if _, ok := keep[info.Path]; ok {
			continue
		}
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("snapshot: remove %s: %w", info.ID, err)
		}
		removed = append(removed, info)
	}
	return removed, nil
}

// newID returns a file id that sorts by creation time. Ids made in the
// same millisecond still sort in creation order.
func newID(t time.Time) string {
	return filePrefix + ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func validID(id string) bool {
	rest, ok := strings.CutPrefix(id, filePrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}

// createdAt is the header time, or the time encoded in the id when the
// header is unreadable.
func createdAt(info *Info) time.Time {
	if !info.CreatedAt.IsZero() {
		return info.CreatedAt
	}
	u, err := ulid.ParseStrict(strings.TrimPrefix(info.ID, filePrefix))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
