package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// HeldError is returned when another daemon already owns the profile.
type HeldError struct {
	Info Info
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile %q is locked by PID %d (%s)", e.Info.Profile, e.Info.PID, e.Path)
}

// Info is the diagnostic content written into the lock file.
type Info struct {
	PID      int
	Profile  string
	Acquired time.Time
}

// Lock represents an acquired profile lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking flock on dir/LOCK for profile.
// Returns *HeldError if another process already holds it.
func Acquire(dir, profile string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(dir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		info, _ := Read(dir)
		_ = f.Close()
		return nil, &HeldError{Info: info, Path: path}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nprofile=%s\ntime=%s\n",
		os.Getpid(), profile, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: path}, nil
}

// Read parses the lock file in dir without acquiring it.
func Read(dir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return Info{}, err
	}
	return parse(string(data)), nil
}

// Release releases the lock. Safe to call on nil receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before close so a stale file never outlives the flock.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parse(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "profile":
			info.Profile = value
		case "time":
			info.Acquired, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}
