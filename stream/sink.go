/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chtc/chtc-logengine/config"
	"github.com/chtc/chtc-logengine/generator"
	"golang.org/x/sys/unix"
)

// Sink appends records to per-stream files under the stream directory and
// mirrors a condensed line to the operations log.
//
// Appends and truncations of the same stream hold the same lock, so the
// retention scheduler never truncates in the middle of a line.
type Sink struct {
	dir    string
	format string
	ops    *OpsLog

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSink(cfg *config.Config, ops *OpsLog) *Sink {
	return &Sink{
		dir:    cfg.LogDir,
		format: cfg.Format,
		ops:    ops,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Path returns the backing file of a stream.
func (s *Sink) Path(stream string) string {
	return filepath.Join(s.dir, stream+".log")
}

// Ops returns the operations log the sink mirrors to.
func (s *Sink) Ops() *OpsLog {
	return s.ops
}

// Prepare creates the stream directory and the operations log directory.
func (s *Sink) Prepare() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stream directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.ops.Path()), 0o755); err != nil {
		return fmt.Errorf("failed to create operations log directory: %w", err)
	}
	return nil
}

func (s *Sink) lock(stream string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[stream]
	if !ok {
		l = &sync.Mutex{}
		s.locks[stream] = l
	}
	return l
}

// Append writes rec to the stream file, then the status line to the
// operations log. The two writes are not atomic with respect to each other.
func (s *Sink) Append(stream string, rec generator.Record) error {
	data, err := encode(s.format, rec)
	if err != nil {
		return err
	}

	l := s.lock(stream)
	l.Lock()
	err = appendLine(s.Path(stream), data)
	l.Unlock()
	if err != nil {
		return fmt.Errorf("stream %s: %w", stream, err)
	}

	return s.ops.Printf("[%s] %s %s", rec.Level, rec.Category, rec.Message)
}

// Truncate empties a stream file, creating it if missing.
func (s *Sink) Truncate(stream string) error {
	l := s.lock(stream)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(s.Path(stream), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to truncate stream %s: %w", stream, err)
	}
	return f.Close()
}

// TruncateAll truncates every given stream and reports all failures.
func (s *Sink) TruncateAll(streams []string) error {
	var errs []error
	for _, stream := range streams {
		if err := s.Truncate(stream); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size reports the byte size of a stream file. A missing file is not an
// error: ok is false.
func (s *Sink) Size(stream string) (size int64, ok bool, err error) {
	info, err := os.Stat(s.Path(stream))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.Size(), true, nil
}

// DiskAvailable returns the free space of the filesystem holding the stream
// directory.
func (s *Sink) DiskAvailable() (uint64, error) {
	stat := unix.Statfs_t{}
	if err := unix.Statfs(s.dir, &stat); err != nil {
		return 0, err
	}

	// available blocks * blocksize
	return stat.Bavail * uint64(stat.Bsize), nil
}
