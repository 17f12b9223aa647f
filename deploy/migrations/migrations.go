// Package migrations 内嵌会话库的 SQL 迁移脚本，按文件名顺序执行。
package migrations

import (
	"embed"
	"sort"
)

//go:embed *.sql
var files embed.FS

// Scripts 按文件名升序返回全部迁移脚本内容。
func Scripts() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, string(content))
	}
	return scripts, nil
}
