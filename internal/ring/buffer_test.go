package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndAdvance(t *testing.T) {
	b := New(16)
	n := b.AppendInput([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, b.InputLen())

	assert.Equal(t, byte('h'), b.ReadAt(0))
	assert.Equal(t, byte('o'), b.ReadAt(4))

	b.Advance(3)
	assert.Equal(t, 2, b.InputLen())
	assert.Equal(t, 3, b.OutputLen())
	assert.Equal(t, byte('l'), b.ReadAt(0)) // "lo" now the unread input
}

func TestInsertShiftsTailAndReturnsDelta(t *testing.T) {
	b := New(32)
	b.AppendInput([]byte("abcdef"))

	delta, err := b.Insert(3, []byte("XYZ"))
	require.NoError(t, err)
	assert.Equal(t, 3, delta)
	assert.Equal(t, 9, b.InputLen())

	got := make([]byte, b.InputLen())
	for i := range got {
		got[i] = b.ReadAt(i)
	}
	assert.Equal(t, "abcXYZdef", string(got))
}

func TestInsertRespectsReserve(t *testing.T) {
	b := New(8)
	b.Reserve = 2
	b.AppendInput([]byte("abcd")) // 4 of the 6 bytes usable under the reserve (8-2) are taken
	_, err := b.Insert(4, []byte("XYZ"))
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestDeleteShrinksAndReturnsNegativeDelta(t *testing.T) {
	b := New(32)
	b.AppendInput([]byte("abcdefgh"))
	d := b.Delete(2, 5) // remove "cde"
	assert.Equal(t, -3, d)
	assert.Equal(t, 5, b.InputLen())

	got := make([]byte, b.InputLen())
	for i := range got {
		got[i] = b.ReadAt(i)
	}
	assert.Equal(t, "abfgh", string(got))
}

func TestReplaceDeltaAndFailureReturnsZero(t *testing.T) {
	b := New(16)
	b.Reserve = 0
	b.AppendInput([]byte("hello world"))

	delta := b.Replace(0, 5, []byte("HI"))
	assert.Equal(t, -3, delta) // 2 - 5
	got := make([]byte, b.InputLen())
	for i := range got {
		got[i] = b.ReadAt(i)
	}
	assert.Equal(t, "HI world", string(got))
}

func TestReplaceFailsWithoutMutatingOnNoRoom(t *testing.T) {
	b := New(8)
	b.AppendInput([]byte("abcdefgh")) // completely full
	before := b.InputLen()

	delta := b.Replace(0, 1, []byte("XYZZY"))
	assert.Equal(t, 0, delta)
	assert.Equal(t, before, b.InputLen())
}

func TestWrapAroundAppendAndRead(t *testing.T) {
	b := New(8)
	b.AppendInput([]byte("abcdef"))
	b.Advance(6) // p now at 6, i=0, o=6
	b.Consume(6) // o back to 0, p still 6 (mod 8 == 6)

	n := b.AppendInput([]byte("XY")) // wraps across the physical end
	assert.Equal(t, 2, n)
	assert.Equal(t, byte('X'), b.ReadAt(0))
	assert.Equal(t, byte('Y'), b.ReadAt(1))
}

func TestRealignRequiresNoPendingOutput(t *testing.T) {
	b := New(16)
	b.AppendInput([]byte("hello"))
	b.Advance(2)

	err := b.Realign()
	assert.ErrorIs(t, err, ErrRealignNotAllowed)

	b.Consume(2)
	require.NoError(t, b.Realign())
	assert.Equal(t, 0, b.Start())
}

func TestResetEmptiesBuffer(t *testing.T) {
	b := New(16)
	b.AppendInput([]byte("hello"))
	b.Advance(5)
	b.Reset()
	assert.Equal(t, 0, b.InputLen())
	assert.Equal(t, 0, b.OutputLen())
	assert.Equal(t, 0, b.Start())
}
