package state

import (
	"errors"
	"fmt"
	"time"

	"statevault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// ErrCorruptInfo 表示指针记录的字节无法解码
// 注意：这跟“记录不存在”是两回事，绝不能静默当作空记录处理
var ErrCorruptInfo = errors.New("state info is corrupted or undecodable")

// KeyInfo 记录某个 Key 当前已发布版本的信息
type KeyInfo struct {
	Version types.Version `cbor:"v"`
	// CreateTimestamp 是该版本发布时的 Unix 秒
	CreateTimestamp int64 `cbor:"ts"`
}

// Info 是全局唯一的指针记录：Key -> 当前已发布版本
// 这是系统中唯一一块共享可变状态，整体读、整体写
// 语义上的“合并”(只改一个 Key、保留其他 Key) 由 WithVersion 完成
type Info struct {
	Mapping map[types.Key]KeyInfo `cbor:"m"`
}

// NewInfo 创建一个空的指针记录
func NewInfo() *Info {
	return &Info{Mapping: make(map[types.Key]KeyInfo)}
}

// Version 返回某个 Key 的已发布版本，没有则返回空串
func (i *Info) Version(key types.Key) types.Version {
	if i == nil {
		return ""
	}
	return i.Mapping[key].Version
}

// Has 检查某个 Key 是否发布过
func (i *Info) Has(key types.Key) bool {
	if i == nil {
		return false
	}
	_, ok := i.Mapping[key]
	return ok
}

// Len 返回已发布的 Key 数量
func (i *Info) Len() int {
	if i == nil {
		return 0
	}
	return len(i.Mapping)
}

// WithVersion 返回一个新的 Info：只更新指定 Key 的条目，其他条目原样保留
// Copy-on-Write：不修改接收者，避免并发读写同一个 map
func (i *Info) WithVersion(key types.Key, version types.Version) *Info {
	next := NewInfo()
	if i != nil {
		for k, v := range i.Mapping {
			next.Mapping[k] = v
		}
	}
	next.Mapping[key] = KeyInfo{
		Version:         version,
		CreateTimestamp: time.Now().Unix(),
	}
	return next
}

// 定义 Canonical CBOR 编码选项
// 强制 Map Key 排序，保证相同的记录生成唯一的字节序列
var encOptions = cbor.EncOptions{
	Sort: cbor.SortCanonical,

	// 时间统一用 Unix 整数，不要 RFC 3339 字符串
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 禁止不定长编码，长度必须在头部声明
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

// 解码选项
var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS) ---
	// 指针记录的 Key 数量理论上等于组件数量，10000 绰绰有余
	MaxArrayElements: 10000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  16,

	// 禁止不定长编码 + 重复 Key
	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// Encode 将指针记录序列化为字节
func (i *Info) Encode() ([]byte, error) {
	data, err := em.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state info: %w", err)
	}
	return data, nil
}

// Decode 从字节还原指针记录
// 解码失败时返回 ErrCorruptInfo (包装了底层错误)
func Decode(data []byte) (*Info, error) {
	var info Info
	if err := dm.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInfo, err)
	}
	if info.Mapping == nil {
		info.Mapping = make(map[types.Key]KeyInfo)
	}
	return &info, nil
}
