package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the lock file inside an instance directory.
const FileName = "LOCK"

// Owner describes the daemon holding an instance. It is stored as TOML in the
// lock file so relayctl can tell the user which process and socket to look at.
type Owner struct {
	PID    int       `toml:"pid"`
	Socket string    `toml:"socket"`
	Since  time.Time `toml:"since"`
}

// HeldError is returned when another relayd already serves the instance.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	if e.Owner.PID == 0 {
		return fmt.Sprintf("instance is locked (%s)", e.Path)
	}
	return fmt.Sprintf("instance is served by relayd pid %d on %s since %s",
		e.Owner.PID, e.Owner.Socket, e.Owner.Since.Format(time.RFC3339))
}

// Lock is a held instance lock. The flock lives as long as the file is open.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire claims dir for this process, recording socket as where it serves.
// A concurrent holder yields a *HeldError carrying that holder's record.
func Acquire(dir, socket string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		owner, _ := ReadOwner(dir)
		return nil, &HeldError{Owner: owner, Path: path}
	}

	l := &Lock{file: f, path: path, owner: Owner{PID: os.Getpid(), Socket: socket, Since: time.Now().UTC().Truncate(time.Second)}}
	if err := l.write(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock record: %w", err)
	}
	return l, nil
}

func (l *Lock) write() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	return toml.NewEncoder(l.file).Encode(l.owner)
}

// ReadOwner returns the record of the daemon holding dir. A missing lock file
// yields fs.ErrNotExist.
func ReadOwner(dir string) (Owner, error) {
	var owner Owner
	_, err := toml.DecodeFile(filepath.Join(dir, FileName), &owner)
	if errors.Is(err, fs.ErrNotExist) {
		return Owner{}, err
	}
	if err != nil {
		return Owner{}, fmt.Errorf("parse lock record: %w", err)
	}
	return owner, nil
}

// Release deletes the record and drops the flock. Nil and repeated calls are no-ops.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Owner returns the record this process wrote.
func (l *Lock) Owner() Owner { return l.owner }
