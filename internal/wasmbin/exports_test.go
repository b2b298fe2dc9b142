package wasmbin

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelwasm/wasmhost/internal/wasmtest"
)

func TestReadExports(t *testing.T) {
	m := wasmtest.New().Memory(1).ExportMemory("memory")
	run := m.Func(wasmtest.Types(wasmtest.I32), wasmtest.Types(wasmtest.I32), wasmtest.LocalGet(0)...)
	alloc := m.Func(nil, wasmtest.Types(wasmtest.I32), wasmtest.I32Const(1024)...)
	m.ExportFunc("run", run).ExportFunc("alloc", alloc)

	exports, err := ReadExports(m.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []Export{
		{Name: "memory", Kind: KindMemory, Index: 0},
		{Name: "run", Kind: KindFunc, Index: 0},
		{Name: "alloc", Kind: KindFunc, Index: 1},
	}, exports)
}

func TestReadExportsKeepsDeclarationOrder(t *testing.T) {
	m := wasmtest.New()
	fn := m.Func(nil, nil)
	names := []string{"zeta", "alpha", "mid", "beta"}
	for _, n := range names {
		m.ExportFunc(n, fn)
	}

	exports, err := ReadExports(m.Bytes())
	require.NoError(t, err)
	require.Len(t, exports, len(names))
	for i, n := range names {
		assert.Equal(t, n, exports[i].Name)
	}
}

func TestReadExportsNoExportSection(t *testing.T) {
	exports, err := ReadExports(wasmtest.New().Bytes())
	require.NoError(t, err)
	assert.Empty(t, exports)
	assert.NotNil(t, exports)
}

func TestReadExportsErrors(t *testing.T) {
	valid := wasmtest.New().Memory(1).ExportMemory("memory").Bytes()

	tests := []struct {
		name   string
		binary []byte
		errIs  error
		errMsg string
	}{
		{
			name:   "empty",
			binary: nil,
			errIs:  ErrInvalidMagicNumber,
		},
		{
			name:   "bad magic",
			binary: []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00},
			errIs:  ErrInvalidMagicNumber,
		},
		{
			name:   "bad version",
			binary: []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00},
			errIs:  ErrInvalidVersion,
		},
		{
			name:   "truncated section",
			binary: valid[:len(valid)-2],
			errMsg: "exceeds remaining",
		},
		{
			name: "invalid export kind",
			binary: []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				0x07, 0x05, 0x01, 0x01, 'x', 0x09, 0x00,
			},
			errIs: ErrInvalidByte,
		},
		{
			name: "duplicate name",
			binary: []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				0x07, 0x09, 0x02, 0x01, 'x', 0x00, 0x00, 0x01, 'x', 0x00, 0x00,
			},
			errMsg: "duplicates name",
		},
		{
			name: "export count larger than section",
			binary: []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				0x07, 0x04, 0x80, 0xda, 0xc4, 0x09,
			},
			errIs:  io.ErrUnexpectedEOF,
			errMsg: "export count 20000000",
		},
		{
			name: "maximum export count",
			binary: []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				0x07, 0x05, 0xff, 0xff, 0xff, 0xff, 0x0f,
			},
			errIs: io.ErrUnexpectedEOF,
		},
		{
			name: "leb128 overflow",
			binary: []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				0x07, 0xff, 0xff, 0xff, 0xff, 0x7f,
			},
			errIs: ErrOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadExports(tt.binary)
			require.Error(t, err)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestDecodeUint32(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 16384, 1<<32 - 1} {
		got, err := decodeUint32(bytes.NewReader(wasmtest.ULEB128(v)))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
