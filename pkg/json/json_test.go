package json

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ordered struct{}

func (ordered) MarshalJSON() ([]byte, error) { return []byte(`{"b":1,"a":2}`), nil }

type failing struct{}

func (failing) MarshalJSON() ([]byte, error) { return nil, errors.New("boom") }

func TestLineWriter(t *testing.T) {
	var out bytes.Buffer
	lw := NewLineWriter(&out)

	require.NoError(t, lw.Write(ordered{}))
	require.NoError(t, lw.Write(map[string]string{"url": "https://x.test/?a=1&b=<2>"}))
	assert.Equal(t, 2, lw.Count())
	require.NoError(t, lw.Close())

	assert.Equal(t, "{\"b\":1,\"a\":2}\n{\"url\":\"https://x.test/?a=1&b=<2>\"}\n", out.String())
}

func TestLineWriter_ReusesBufferAcrossValues(t *testing.T) {
	var out bytes.Buffer
	lw := NewLineWriter(&out)
	defer lw.Close()

	require.NoError(t, lw.Write(map[string]interface{}{"q": "a<b && c>d"}))
	assert.Error(t, lw.Write(map[string]interface{}{"ch": make(chan int)}))
	require.NoError(t, lw.Write([]int{1, 2}))
	assert.Equal(t, 2, lw.Count())

	lines := SplitLines(out.Bytes())
	require.Len(t, lines, 2)
	assert.Equal(t, `{"q":"a<b && c>d"}`, string(lines[0]))
	assert.Equal(t, `[1,2]`, string(lines[1]))
}

func TestLineWriter_MarshalError(t *testing.T) {
	var out bytes.Buffer
	lw := NewLineWriter(&out)
	defer lw.Close()

	assert.Error(t, lw.Write(failing{}))
	assert.Equal(t, 0, lw.Count())
	assert.Empty(t, out.String())
}

func TestSplitLines(t *testing.T) {
	lines := SplitLines([]byte("{\"a\":1}\n\n  \n{\"a\":2}\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":2}`, string(lines[1]))
	assert.Nil(t, SplitLines(nil))
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("dirty")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Equal(t, 0, again.Len())
	PutBuffer(again)
	PutBuffer(nil)
}
