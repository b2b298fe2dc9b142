// Package wasmbin reads the parts of a WebAssembly binary that the host needs
// before instantiation and that runtimes only report as unordered maps.
package wasmbin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Export kinds as encoded in the export section.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

const (
	sectionIDCustom byte = 0
	sectionIDExport byte = 7
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6d}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

var (
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid version header")
	ErrInvalidByte        = errors.New("invalid byte")
	ErrOverflow           = errors.New("leb128 overflow")
)

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// ReadExports returns the exports of binary in declaration order. A binary
// without an export section yields an empty slice.
func ReadExports(binary []byte) ([]Export, error) {
	r := bytes.NewReader(binary)

	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil || !bytes.Equal(header, magic) {
		return nil, ErrInvalidMagicNumber
	}
	if _, err := io.ReadFull(r, header); err != nil || !bytes.Equal(header, version) {
		return nil, ErrInvalidVersion
	}

	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			return []Export{}, nil
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		size, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %d: %w", id, err)
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("section %d size %d exceeds remaining %d bytes: %w", id, size, r.Len(), io.ErrUnexpectedEOF)
		}

		if id != sectionIDExport {
			// Custom sections may appear anywhere; every other section is
			// skipped the same way.
			if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, err
			}
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read export section: %w", err)
		}
		return decodeExportSection(bytes.NewReader(payload))
	}
}

func decodeExportSection(r *bytes.Reader) ([]Export, error) {
	count, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	// Each export takes at least three bytes: name size, kind and index.
	if int64(count) > int64(r.Len())/3 {
		return nil, fmt.Errorf("export count %d exceeds section of %d bytes: %w", count, r.Len(), io.ErrUnexpectedEOF)
	}

	exports := make([]Export, 0, count)
	seen := make(map[string]struct{}, count)
	for i := uint32(0); i < count; i++ {
		e, err := decodeExport(r)
		if err != nil {
			return nil, fmt.Errorf("read export[%d]: %w", i, err)
		}
		if _, ok := seen[e.Name]; ok {
			return nil, fmt.Errorf("export[%d] duplicates name %q", i, e.Name)
		}
		seen[e.Name] = struct{}{}
		exports = append(exports, e)
	}
	return exports, nil
}

func decodeExport(r *bytes.Reader) (Export, error) {
	var e Export

	nameLen, err := decodeUint32(r)
	if err != nil {
		return e, fmt.Errorf("read size of export name: %w", err)
	}
	if int64(nameLen) > int64(r.Len()) {
		return e, fmt.Errorf("export name of size %d: %w", nameLen, io.ErrUnexpectedEOF)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return e, fmt.Errorf("read export name: %w", err)
	}
	if !utf8.Valid(name) {
		return e, fmt.Errorf("export name is not valid UTF-8")
	}
	e.Name = string(name)

	if e.Kind, err = r.ReadByte(); err != nil {
		return e, fmt.Errorf("error decoding export kind: %w", err)
	}
	switch e.Kind {
	case KindFunc, KindTable, KindMemory, KindGlobal:
		if e.Index, err = decodeUint32(r); err != nil {
			return e, fmt.Errorf("error decoding export index: %w", err)
		}
	default:
		return e, fmt.Errorf("%w: invalid byte for exportdesc: %#x", ErrInvalidByte, e.Kind)
	}
	return e, nil
}

func decodeUint32(r io.ByteReader) (uint32, error) {
	var ret uint32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == 4 && b&0xf0 != 0 {
			return 0, ErrOverflow
		}
		ret |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, nil
		}
		shift += 7
	}
	return 0, ErrOverflow
}
