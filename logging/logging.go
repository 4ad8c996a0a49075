// Package logging provides the gateway's rotating file logger, adapted
// from the teacher's logrecorder package: a date-named directory holding
// time-stamped log files, rotated periodically so a long-running gateway
// process doesn't accumulate one unbounded file.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

const rotateInterval = 10 * time.Minute

func nowString() string {
	return time.Now().Format("20060102_1504")
}

func dayDir(root string) (string, error) {
	now := time.Now()
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	full := filepath.Join(root, dirName)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		if err := os.MkdirAll(full, 0755); err != nil {
			return "", fmt.Errorf("logging: create log dir: %w", err)
		}
	}
	return full, nil
}

// Recorder owns one rotating *log.Logger under root/YYYY_MM_DD/<name>_<ts>.log.
type Recorder struct {
	root   string
	name   string
	logger *log.Logger
	stopCh chan struct{}
}

// NewRecorder opens the first log file for name under root and returns a
// Recorder wrapping a live *log.Logger. Call Start to begin periodic
// rotation.
func NewRecorder(root, name string) (*Recorder, error) {
	r := &Recorder{root: root, name: name, stopCh: make(chan struct{})}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) reopen() error {
	dir, err := dayDir(r.root)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", r.name, nowString()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	if r.logger == nil {
		r.logger = log.New(f, "", log.Ldate|log.Lmicroseconds)
	} else {
		r.logger.SetOutput(f)
	}
	return nil
}

// Logger returns the Recorder's *log.Logger. It is the same logger for the
// Recorder's whole lifetime; rotation redirects its output to the new file.
func (r *Recorder) Logger() *log.Logger { return r.logger }

// Start begins the rotation goroutine. Stop cancels it.
func (r *Recorder) Start() {
	go func() {
		ticker := time.NewTicker(rotateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.reopen(); err != nil {
					r.logger.Printf("logging: rotation failed: %v", err)
				}
			}
		}
	}()
}

// Stop cancels the rotation goroutine.
func (r *Recorder) Stop() {
	close(r.stopCh)
}
