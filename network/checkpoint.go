package network

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

const (
	checkpointMagic   = "XQZN"
	checkpointVersion = 1
)

// CorruptCheckpointError means a checkpoint could not be trusted. Nothing
// from a corrupt file is ever returned to the caller.
type CorruptCheckpointError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptCheckpointError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt checkpoint %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt checkpoint %s: %s", e.Path, e.Reason)
}

func (e *CorruptCheckpointError) Unwrap() error { return e.Err }

type checkpointHeader struct {
	Format      uint16
	Input       uint32
	Hidden      uint32
	ValueHidden uint32
	Policy      uint32
	Version     uint64
	Step        int64
	NumParams   uint64
	PayloadLen  uint64
	Checksum    uint64
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<30))
)

// Encode serialises a snapshot: magic, arch id, fixed header, then the
// zstd-compressed little-endian parameters. The checksum covers the payload.
func Encode(s *Snapshot) []byte {
	params := s.net.Params
	raw := make([]byte, 4*len(params))
	for i, p := range params {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(p))
	}
	payload := encoder.EncodeAll(raw, nil)

	a := s.net.Arch
	h := checkpointHeader{
		Format:      checkpointVersion,
		Input:       uint32(a.Input),
		Hidden:      uint32(a.Hidden),
		ValueHidden: uint32(a.ValueHidden),
		Policy:      uint32(a.Policy),
		Version:     s.Version,
		Step:        s.Step,
		NumParams:   uint64(len(params)),
		PayloadLen:  uint64(len(payload)),
		Checksum:    xxh3.Hash(payload),
	}

	var buf bytes.Buffer
	buf.WriteString(checkpointMagic)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(ArchID)))
	buf.WriteString(ArchID)
	_ = binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(payload)
	return buf.Bytes()
}

// Decode is the inverse of Encode. path is only used in errors.
func Decode(path string, data []byte) (*Snapshot, error) {
	corrupt := func(reason string, err error) error {
		return &CorruptCheckpointError{Path: path, Reason: reason, Err: err}
	}
	r := bytes.NewReader(data)

	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != checkpointMagic {
		return nil, corrupt("bad magic", err)
	}
	var idLen uint16
	if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
		return nil, corrupt("truncated arch id", err)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return nil, corrupt("truncated arch id", err)
	}
	if string(id) != ArchID {
		return nil, corrupt(fmt.Sprintf("arch %q, want %q", id, ArchID), nil)
	}
	var h checkpointHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, corrupt("truncated header", err)
	}
	if h.Format != checkpointVersion {
		return nil, corrupt(fmt.Sprintf("format %d, want %d", h.Format, checkpointVersion), nil)
	}
	arch := Arch{Input: int(h.Input), Hidden: int(h.Hidden), ValueHidden: int(h.ValueHidden), Policy: int(h.Policy)}
	if err := arch.Validate(); err != nil {
		return nil, corrupt("shape mismatch", err)
	}
	if uint64(arch.NumParams()) != h.NumParams {
		return nil, corrupt(fmt.Sprintf("param count %d does not match shape (%d)", h.NumParams, arch.NumParams()), nil)
	}
	if uint64(r.Len()) != h.PayloadLen {
		return nil, corrupt(fmt.Sprintf("payload is %d bytes, header says %d", r.Len(), h.PayloadLen), nil)
	}
	payload := data[len(data)-r.Len():]
	if xxh3.Hash(payload) != h.Checksum {
		return nil, corrupt("checksum mismatch", nil)
	}
	raw, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, corrupt("decompress", err)
	}
	if uint64(len(raw)) != 4*h.NumParams {
		return nil, corrupt(fmt.Sprintf("decoded %d bytes, want %d", len(raw), 4*h.NumParams), nil)
	}
	params := make([]float32, h.NumParams)
	for i := range params {
		params[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	net, err := FromParams(arch, params)
	if err != nil {
		return nil, corrupt("params", err)
	}
	return &Snapshot{Version: h.Version, Step: h.Step, net: net}, nil
}

// Save writes the snapshot atomically (tmp + rename).
func Save(path string, s *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(Encode(s)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(path); err == nil {
		s.Created = st.ModTime()
	}
	return s, nil
}

// CheckpointPath is the conventional file name for a snapshot version.
func CheckpointPath(dir string, version uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot-%06d.xqz", version))
}
