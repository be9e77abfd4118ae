package mapindex

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	jsoniter "github.com/json-iterator/go"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
)

const blockFileName = "records.block"

// blockBackend is map index backend B (spec §6): an append-only,
// block-compressed value store keyed by offset. Each Put/Delete appends
// a new record; Load replays the file and keeps only the last record
// per offset, so a live record always shadows any stale ones before it.
type blockBackend struct {
	path string
	file *os.File
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// record header: offset(4) | tombstone(1) | compressedLen(4)
const blockHeaderSize = 4 + 1 + 4

func openBlock(dir string) (*blockBackend, error) {
	path := filepath.Join(dir, blockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "open map index block backend", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = f.Close()
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create block backend encoder", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = f.Close()
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create block backend decoder", err)
	}
	return &blockBackend{path: path, file: f, enc: enc, dec: dec}, nil
}

func (b *blockBackend) appendRecord(offset uint32, tombstone bool, payload []byte) error {
	compressed := b.enc.EncodeAll(payload, nil)
	header := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], offset)
	if tombstone {
		header[4] = 1
	}
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(compressed)))

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "seek map index block backend", err)
	}
	if _, err := b.file.Write(header); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "write map index block header", err)
	}
	if _, err := b.file.Write(compressed); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "write map index block payload", err)
	}
	return nil
}

func (b *blockBackend) Put(offset uint32, values []any) error {
	payload, err := jsoniter.Marshal(values)
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "marshal map index block record", err)
	}
	return b.appendRecord(offset, false, payload)
}

func (b *blockBackend) Delete(offset uint32) error {
	return b.appendRecord(offset, true, nil)
}

func (b *blockBackend) Load() (map[uint32][]any, error) {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "seek map index block backend", err)
	}
	out := make(map[uint32][]any)
	header := make([]byte, blockHeaderSize)
	for {
		if _, err := io.ReadFull(b.file, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, segerrors.Service(segerrors.CodeStorageIO, "read map index block header", err)
		}
		offset := binary.LittleEndian.Uint32(header[0:4])
		tombstone := header[4] != 0
		compressedLen := binary.LittleEndian.Uint32(header[5:9])

		compressed := make([]byte, compressedLen)
		if _, err := io.ReadFull(b.file, compressed); err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageIO, "read map index block payload", err)
		}

		if tombstone {
			delete(out, offset)
			continue
		}
		payload, err := b.dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageCorrupt, "decompress map index block record", err)
		}
		var values []any
		if err := jsoniter.Unmarshal(payload, &values); err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageCorrupt, "unmarshal map index block record", err)
		}
		out[offset] = values
	}
	return out, nil
}

func (b *blockBackend) Files() []string { return []string{b.path} }

func (b *blockBackend) Flush() error { return b.file.Sync() }

func (b *blockBackend) Close() error {
	b.enc.Close()
	b.dec.Close()
	return b.file.Close()
}
