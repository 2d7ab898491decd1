package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// OwnerContent 生成 "host:pid:nonce" 形式的持有者身份
func OwnerContent() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// ParseOwner 拆解 OwnerContent 的结果
func ParseOwner(content string) (host string, pid int, ok bool) {
	parts := strings.Split(content, ":")
	if len(parts) != 3 {
		return "", 0, false
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil || pid <= 0 {
		return "", 0, false
	}
	return parts[0], pid, true
}

// ProcessValidator 同一台机器上持有进程已经退出的锁视为失效
// 其他机器上的锁无法判断，一律视为有效
func ProcessValidator(content string) bool {
	host, pid, ok := ParseOwner(content)
	if !ok {
		return false
	}
	self, err := os.Hostname()
	if err != nil || host != self {
		return true
	}
	return processAlive(pid)
}

// ProcessOptions 使用当前进程身份和 ProcessValidator 的默认配置
func ProcessOptions() Options {
	return Options{
		Content:   OwnerContent(),
		Validator: ProcessValidator,
	}
}
