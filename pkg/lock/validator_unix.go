//go:build unix

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive 发送 0 号信号探测进程是否存在
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
