package osrfmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Exercises partial reassembly: for [Partial(c1), Partial(c2), ...,
// PartialComplete(cn)] on a single trace, the surfaced value equals the
// structured parse of the concatenation, and the buffer is empty afterwards.
func TestPartialBufferReassembly(t *testing.T) {
	t.Parallel()

	var buf PartialBuffer
	buf.Append(`{"a":`)
	require.True(t, buf.Active())
	buf.Append(`1`)

	v, err := buf.Finish(`}`)
	require.NoError(t, err)
	require.False(t, buf.Active())

	var out map[string]int
	require.NoError(t, v.Decode(&out))
	require.Equal(t, map[string]int{"a": 1}, out)
}

func TestPartialBufferEmptyFinalChunk(t *testing.T) {
	t.Parallel()

	var buf PartialBuffer
	buf.Append(`"hello `)
	buf.Append(`world"`)

	v, err := buf.Finish("")
	require.NoError(t, err)

	var s string
	require.NoError(t, v.Decode(&s))
	require.Equal(t, "hello world", s)
}

func TestPartialBufferRejectsUnparsableAccumulation(t *testing.T) {
	t.Parallel()

	var buf PartialBuffer
	buf.Append(`{not json`)
	_, err := buf.Finish("")
	require.Error(t, err)
}

func TestPartialBufferClear(t *testing.T) {
	t.Parallel()

	var buf PartialBuffer
	buf.Append(`partial data`)
	buf.Clear()
	require.False(t, buf.Active())
}
