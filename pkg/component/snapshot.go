package component

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"statevault/pkg/ignore"
	"statevault/pkg/statestore"
	"statevault/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/errgroup"
)

// hashWorkers 限制并发读盘+哈希的 goroutine 数量
const hashWorkers = 8

// Recorder 是可选的刷新历史落库接口 (由 meta.Repository 满足)
type Recorder interface {
	LogRefresh(ctx context.Context, key types.Key, version types.Version, meta map[string]any) error
}

// FileEntry 是快照 Blob 里的一个文件
type FileEntry struct {
	Path string `cbor:"p"` // 相对路径 (slash 分隔)
	Data []byte `cbor:"d"`
}

// snapshot 是快照 Blob 的序列化格式
type snapshot struct {
	Files []FileEntry `cbor:"files"`
}

// DirSnapshot 是一个具体的可刷新组件：
// 把一个目录的当前内容打包成状态 Blob，版本号取内容哈希。
// 同样的目录内容刷新多少次都会算出同一个版本 —— 幂等重刷靠这个保证。
type DirSnapshot struct {
	key      types.Key
	dir      string
	states   *statestore.Store
	recorder Recorder // 可选，nil 时不落历史
}

func NewDirSnapshot(key types.Key, dir string, states *statestore.Store) *DirSnapshot {
	return &DirSnapshot{key: key, dir: dir, states: states}
}

// WithRecorder 挂上刷新历史落库
func (c *DirSnapshot) WithRecorder(r Recorder) *DirSnapshot {
	c.recorder = r
	return c
}

func (c *DirSnapshot) Key() types.Key { return c.key }

// Refresh 重算目录快照并通过门面发布
func (c *DirSnapshot) Refresh(ctx context.Context) error {
	// 1. 扫描目录 (忽略规则生效)
	paths, err := c.scan()
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", c.dir, err)
	}

	// 2. 并发读取 + 哈希
	entries, hashes, err := c.loadFiles(ctx, paths)
	if err != nil {
		return err
	}

	// 3. 版本号 = 内容哈希 (路径+文件哈希的 Canonical CBOR 再哈希)
	version, err := contentVersion(paths, hashes)
	if err != nil {
		return err
	}

	// 4. 打包快照 Blob，写到临时文件
	data, err := encMode.Marshal(snapshot{Files: entries})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tempFile, err := os.CreateTemp("", "sv-snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close()

	// 5. 通过门面发布 (Blob 落盘 happens-before 指针更新)
	if err := c.states.UploadStateFromPath(ctx, c.key, version, tempFile.Name()); err != nil {
		return err
	}

	// 6. 历史落库 (best-effort：历史丢了不该让刷新失败)
	if c.recorder != nil {
		meta := map[string]any{
			"file_count": len(entries),
			"blob_bytes": len(data),
		}
		if err := c.recorder.LogRefresh(ctx, c.key, version, meta); err != nil {
			fmt.Printf("WARN: failed to log refresh history: %v\n", err)
		}
	}

	return nil
}

// scan 遍历目录，返回排序后的相对路径列表
func (c *DirSnapshot) scan() ([]string, error) {
	matcher, err := ignore.NewMatcher(c.dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 排序保证版本号确定性
	sort.Strings(paths)
	return paths, nil
}

// loadFiles 并发读取文件内容并计算每个文件的哈希
// 结果按 paths 的顺序就位，所以不需要锁
func (c *DirSnapshot) loadFiles(ctx context.Context, paths []string) ([]FileEntry, []string, error) {
	entries := make([]FileEntry, len(paths))
	hashes := make([]string, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(hashWorkers)

	for i, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(c.dir, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", rel, err)
			}
			sum := sha256.Sum256(data)
			entries[i] = FileEntry{Path: rel, Data: data}
			hashes[i] = hex.EncodeToString(sum[:])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entries, hashes, nil
}

// contentVersion 把 (路径, 文件哈希) 列表编码成 Canonical CBOR 再整体哈希
// 相同内容必然得到相同版本串；任何文件的增删改都会改变版本串
func contentVersion(paths, hashes []string) (types.Version, error) {
	type pair struct {
		P string `cbor:"p"`
		H string `cbor:"h"`
	}
	pairs := make([]pair, len(paths))
	for i := range paths {
		pairs[i] = pair{P: paths[i], H: hashes[i]}
	}

	data, err := encMode.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal version manifest: %w", err)
	}
	sum := sha256.Sum256(data)
	return types.Version(hex.EncodeToString(sum[:])), nil
}

// Canonical 编码选项：Map Key 排序 + 禁止不定长，保证字节级确定性
var encOptions = cbor.EncOptions{
	Sort:        cbor.SortCanonical,
	IndefLength: cbor.IndefLengthForbidden,
}

var encMode, _ = encOptions.EncMode()

// DecodeSnapshot 从 Blob 字节还原快照 (供下游展开使用)
func DecodeSnapshot(data []byte) ([]FileEntry, error) {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("blob is not a snapshot: %w", err)
	}
	return snap.Files, nil
}
