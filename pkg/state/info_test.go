package state

import (
	"testing"

	"statevault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo_WithVersion(t *testing.T) {
	// 1. 从空记录开始
	info := NewInfo()
	assert.Equal(t, 0, info.Len())
	assert.False(t, info.Has("a"))

	// 2. 发布第一个 Key
	next := info.WithVersion("a", "v1")
	assert.Equal(t, types.Version("v1"), next.Version("a"))
	assert.NotZero(t, next.Mapping["a"].CreateTimestamp)

	// Copy-on-Write: 原记录不受影响
	assert.Equal(t, 0, info.Len(), "WithVersion 不应该修改接收者")

	// 3. 发布第二个 Key：第一个 Key 的条目原样保留
	merged := next.WithVersion("b", "v9")
	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, types.Version("v1"), merged.Version("a"))
	assert.Equal(t, types.Version("v9"), merged.Version("b"))

	// 4. 覆盖已有 Key
	bumped := merged.WithVersion("a", "v2")
	assert.Equal(t, types.Version("v2"), bumped.Version("a"))
	assert.Equal(t, types.Version("v9"), bumped.Version("b"))
}

func TestInfo_WithVersion_NilReceiver(t *testing.T) {
	// absent 记录 (nil) 上发布：等价于从空记录开始
	var info *Info
	next := info.WithVersion("a", "v1")
	require.NotNil(t, next)
	assert.Equal(t, types.Version("v1"), next.Version("a"))
}

func TestInfo_EncodeDecode(t *testing.T) {
	info := NewInfo().WithVersion("raw_data", "abc123").WithVersion("metrics", "def456")

	data, err := info.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Len())
	assert.Equal(t, types.Version("abc123"), decoded.Version("raw_data"))
	assert.Equal(t, types.Version("def456"), decoded.Version("metrics"))
	assert.Equal(t, info.Mapping["raw_data"].CreateTimestamp, decoded.Mapping["raw_data"].CreateTimestamp)
}

func TestInfo_EncodeDeterministic(t *testing.T) {
	// Canonical 编码：同一记录编码两次必须得到相同字节
	info := NewInfo().WithVersion("a", "v1").WithVersion("b", "v2").WithVersion("c", "v3")

	first, err := info.Encode()
	require.NoError(t, err)
	second, err := info.Encode()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecode_Corrupt(t *testing.T) {
	// 损坏的字节必须报 ErrCorruptInfo
	// 绝不能静默当作空记录 —— 那会导致指针记录被清空覆盖
	_, err := Decode([]byte("this is not cbor at all \xff\xfe"))
	assert.ErrorIs(t, err, ErrCorruptInfo)
}
