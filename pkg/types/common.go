// pkg/types/common.go
package types

// Key 代表一个可刷新组件的稳定标识符
// 这是一个“值对象”，应当是不可变的。
// 它同时充当 Blob 命名空间的前缀和指针记录的映射键。
type Key string

func (k Key) String() string { return string(k) }

// 验证 Key 合法性
func (k Key) IsZero() bool { return k == "" }

// Version 代表某个 Key 下一次刷新产生的不透明内容标签
// 存储层不解析它：可以是内容哈希，也可以是单调递增计数器
// 同一个 Key 下的唯一性由组件自己负责
type Version string

func (v Version) String() string { return string(v) }
func (v Version) IsZero() bool   { return v == "" }

// Short 返回截断的版本号，用于展示 (类似 git 短哈希)
func (v Version) Short() string {
	if len(v) <= 8 {
		return string(v)
	}
	return string(v[:8])
}
