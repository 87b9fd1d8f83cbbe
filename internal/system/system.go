package system

import (
	"log/slog"
	"syscall"
)

// InitResourceLimits raises the open-file limit so that many concurrent
// frame reads from disk do not hit EMFILE. It never lowers the limit.
func InitResourceLimits(logger *slog.Logger, want uint64) {
	if logger == nil {
		logger = slog.Default()
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("could not read open file limit", "error", err)
		return
	}

	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("could not raise open file limit", "error", err)
		return
	}
	logger.Debug("open file limit raised", "limit", rLimit.Cur)
}
