package daemon

import (
	"github.com/cockroachdb/errors"
)

// LifecycleManager keeps a single daemon per pid file. The instance lock sits
// next to the pid file.
type LifecycleManager struct {
	lockFile  *LockFile
	pidFile   *PIDFile
	connector *SocketConnector
}

func NewLifecycleManager(pidPath, socketPath string) *LifecycleManager {
	return &LifecycleManager{
		lockFile:  NewLockFile(pidPath + ".lock"),
		pidFile:   NewPIDFile(pidPath),
		connector: NewSocketConnector(socketPath),
	}
}

// Acquire takes the instance lock and records this process in the pid file.
func (lm *LifecycleManager) Acquire() error {
	if err := lm.lockFile.Acquire(); err != nil {
		if errors.Is(err, ErrLockHeld) {
			pid, _ := lm.pidFile.Read()
			return errors.Wrapf(err, "pid %d", pid)
		}
		return errors.Wrap(err, "failed to acquire instance lock")
	}

	if err := lm.pidFile.Write(); err != nil {
		lm.lockFile.Release()
		return err
	}
	return nil
}

// Running returns the pid of a live daemon that answers on its socket.
func (lm *LifecycleManager) Running() (int, bool) {
	if !lm.pidFile.IsProcessAlive() || !lm.connector.Responsive() {
		return 0, false
	}
	pid, err := lm.pidFile.Read()
	if err != nil {
		return 0, false
	}
	return pid, true
}

func (lm *LifecycleManager) Cleanup() {
	if err := lm.pidFile.Remove(); err != nil {
		log.Warn("failed to remove pid file", "error", err)
	}
	if err := lm.lockFile.Release(); err != nil {
		log.Warn("failed to release lock file", "error", err)
	}
}

func (lm *LifecycleManager) LockFile() *LockFile {
	return lm.lockFile
}

func (lm *LifecycleManager) PIDFile() *PIDFile {
	return lm.pidFile
}
