package daemon

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Write records the current process id, replacing a stale file. A symlink at
// the path is refused.
func (p *PIDFile) Write() error {
	pid := os.Getpid()

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return errors.Wrap(err, "failed to create PID file")
		}
		info, lerr := os.Lstat(p.path)
		if lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.Newf("PID file %s is a symlink", p.path)
		}
		os.Remove(p.path)
		f, err = os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			return errors.Wrap(err, "failed to create PID file")
		}
	}
	defer f.Close()

	_, err = f.WriteString(strconv.Itoa(pid))
	return errors.Wrap(err, "write PID file")
}

// Read returns the recorded pid, or 0 when there is no file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read PID file")
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(content)
	if err != nil {
		return 0, errors.Wrap(err, "invalid PID in file")
	}

	if pid <= 0 {
		return 0, errors.Newf("invalid PID: %d (must be positive)", pid)
	}

	return pid, nil
}

func (p *PIDFile) IsProcessAlive() bool {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return false
	}

	return processExists(pid)
}

func (p *PIDFile) Remove() error {
	if info, err := os.Lstat(p.path); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return errors.Newf("refusing to remove PID file %s: is a symlink", p.path)
		}
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove PID file")
	}
	return nil
}

func (p *PIDFile) Path() string {
	return p.path
}
