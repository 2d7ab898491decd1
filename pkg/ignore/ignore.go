package ignore

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 导入目录下的忽略规则文件
const FileName = ".hiveignore"

// defaultRules 系统级默认忽略规则，始终生效
var defaultRules = []string{
	// --- 元数据目录 ---
	".hive", // 导入 hive 自身的目录会无限递归
	".git",

	// --- 安全 ---
	".env",

	// --- 常见垃圾文件 ---
	".DS_Store", // macOS
	"Thumbs.db", // Windows
}

// Matcher 判断一个路径在导入时是否应该被跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 从 rootPath 下的 .hiveignore (如果存在) 和默认规则编译匹配器
func NewMatcher(rootPath string) (*Matcher, error) {
	ignoreFilePath := filepath.Join(rootPath, FileName)

	var ignorer *gitignore.GitIgnore
	if _, err := os.Stat(ignoreFilePath); err == nil {
		// 文件内容和默认规则合并编译
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
		if err != nil {
			return nil, err
		}
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	return &Matcher{ignorer: ignorer}, nil
}

// NewMatcherFromLines 只使用给定的规则，不包含默认规则
func NewMatcherFromLines(lines ...string) *Matcher {
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(lines...)}
}

// Matches 检查路径是否应该被忽略
// path 是相对于导入根目录、以 '/' 分隔的路径 (例如 "data/model.bin")
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
