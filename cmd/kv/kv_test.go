package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	raw, err := parseCodec("raw")
	require.NoError(t, err)
	data, err := raw.encode("plain")
	require.NoError(t, err)
	v, err := raw.decode(data)
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	js, err := parseCodec("json")
	require.NoError(t, err)
	_, err = js.encode("{broken")
	assert.Error(t, err)
	data, err = js.encode(`{"a":[1,2]}`)
	require.NoError(t, err)
	v, err = js.decode(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{1.0, 2.0}}, v)

	cb, err := parseCodec("cbor")
	require.NoError(t, err)
	data, err = cb.encode(`{"name":"x","on":true}`)
	require.NoError(t, err)
	v, err = cb.decode(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "on": true}, v)
	_, err = cb.decode([]byte{0xff, 0x00})
	assert.Error(t, err)

	_, err = parseCodec("xml")
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key, err := parseKey("entry/1/order")
	require.NoError(t, err)
	assert.Equal(t, 3, key.Len())

	_, err = parseKey("")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	assert.True(t, summarize("skipped", testingResult(0, 0)).skipped)

	r := summarize("put", testingResult(1000, 2000000))
	assert.False(t, r.skipped)
	assert.Equal(t, 2000.0, r.nsPerOp)
	assert.Equal(t, 500000.0, r.opsPerSec)
	assert.Contains(t, r.String(), "ops/sec")
}

func testingResult(n int, totalNs int64) testing.BenchmarkResult {
	return testing.BenchmarkResult{N: n, T: time.Duration(totalNs)}
}
