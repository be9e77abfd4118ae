package quantized

import (
	"encoding/binary"
	"fmt"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
)

const headerSize = 4 + 4 + 1 + 4 + 4 + 1 + 1 // magic,version,method,dim,count,distance,invert

func distanceByte(d string) byte {
	switch d {
	case "dot":
		return 0
	case "cosine":
		return 1
	case "l1":
		return 2
	case "l2":
		return 3
	default:
		return 0
	}
}

func distanceFromByte(b byte) string {
	switch b {
	case 0:
		return "dot"
	case 1:
		return "cosine"
	case 2:
		return "l1"
	case 3:
		return "l2"
	default:
		return "dot"
	}
}

type header struct {
	Method   Method
	Dim      uint32
	Count    uint32
	Distance string
	Invert   bool
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	buf[8] = byte(h.Method)
	binary.LittleEndian.PutUint32(buf[9:13], h.Dim)
	binary.LittleEndian.PutUint32(buf[13:17], h.Count)
	buf[17] = distanceByte(h.Distance)
	if h.Invert {
		buf[18] = 1
	}
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, segerrors.Service(segerrors.CodeStorageCorrupt, "quantized header truncated", nil)
	}
	if string(buf[0:4]) != magic {
		return header{}, segerrors.Service(segerrors.CodeStorageCorrupt,
			fmt.Sprintf("bad magic %q", buf[0:4]), nil)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != formatVersion {
		return header{}, segerrors.Service(segerrors.CodeStorageCorrupt,
			fmt.Sprintf("unsupported format version %d", version), nil)
	}
	return header{
		Method:   Method(buf[8]),
		Dim:      binary.LittleEndian.Uint32(buf[9:13]),
		Count:    binary.LittleEndian.Uint32(buf[13:17]),
		Distance: distanceFromByte(buf[17]),
		Invert:   buf[18] != 0,
	}, nil
}
