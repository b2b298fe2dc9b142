package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOps struct {
	allocs int
	frees  int
}

func (c *countingOps) ops() VecOps[int32] {
	return VecOps[int32]{
		Alloc: func(n int) []int32 {
			c.allocs++
			return make([]int32, n)
		},
		Free: func([]int32) { c.frees++ },
	}
}

func TestVecEmptyInputSkipsAllocation(t *testing.T) {
	tests := []struct {
		name  string
		build func(VecOps[int32]) *Vec[int32]
	}{
		{name: "owned nil", build: func(o VecOps[int32]) *Vec[int32] { return AllocateOwned(o, nil, false) }},
		{name: "owned empty", build: func(o VecOps[int32]) *Vec[int32] { return AllocateOwned(o, []int32{}, false) }},
		{name: "const nil", build: func(o VecOps[int32]) *Vec[int32] { return AllocateConst(o, nil, false) }},
		{name: "const empty", build: func(o VecOps[int32]) *Vec[int32] { return AllocateConst(o, []*int32{}, false) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &countingOps{}
			v := tt.build(c.ops())
			assert.True(t, v.Valid())
			assert.Zero(t, v.Len())
			v.Close()
			assert.Zero(t, c.allocs)
			assert.Zero(t, c.frees)
		})
	}
}

func TestVecOwnedFreesOnClose(t *testing.T) {
	c := &countingOps{}
	v := AllocateOwned(c.ops(), []int32{1, 2, 3}, false)
	require.Equal(t, 1, c.allocs)
	assert.Equal(t, []int32{1, 2, 3}, v.Get())

	v.Close()
	v.Close()
	assert.Equal(t, 1, c.frees)
	assert.False(t, v.Valid())
	assert.Nil(t, v.Get())
}

func TestVecBorrowedNeverFrees(t *testing.T) {
	c := &countingOps{}
	v := AllocateOwned(c.ops(), []int32{7}, true)
	v.Close()
	assert.Equal(t, 1, c.allocs)
	assert.Zero(t, c.frees)

	backing := []int32{4, 5}
	view := BorrowVec(backing)
	assert.True(t, view.Borrowed())
	assert.Equal(t, 2, view.Len())
	view.Close()
	assert.Equal(t, []int32{4, 5}, backing)
}

func TestVecConstCopiesPointees(t *testing.T) {
	a, b := int32(10), int32(20)
	c := &countingOps{}
	v := AllocateConst(c.ops(), []*int32{&a, nil, &b}, false)
	assert.Equal(t, []int32{10, 0, 20}, v.Get())

	a = 11
	assert.Equal(t, int32(10), v.Get()[0], "vector owns a copy")
	v.Close()
	assert.Equal(t, 1, c.frees)
}

func TestVecAt(t *testing.T) {
	v := BorrowVec([]string{"memory", "run"})
	got, ok := v.At(1)
	assert.True(t, ok)
	assert.Equal(t, "run", got)

	_, ok = v.At(2)
	assert.False(t, ok)
	_, ok = v.At(-1)
	assert.False(t, ok)
}

func TestHeapOps(t *testing.T) {
	v := AllocateOwned(HeapOps[byte](), []byte("hi"), false)
	assert.Equal(t, "hi", string(v.Get()))
	v.Close()
}
