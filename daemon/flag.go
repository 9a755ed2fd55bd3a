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

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Flag is the liveness flag file. Its presence means the daemon should keep
// running; its content is the owning process id in decimal. A separate
// controller process may remove it at any time.
type Flag struct {
	path string
}

func NewFlag(path string) *Flag {
	return &Flag{path: path}
}

func (f *Flag) Path() string {
	return f.path
}

// Exists reports whether the flag is present. Only a missing file means
// absent; any other stat failure is returned.
func (f *Flag) Exists() (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check liveness flag: %w", err)
}

// Write installs the flag holding pid, replacing any existing content.
func (f *Flag) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create flag directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write liveness flag: %w", err)
	}
	return nil
}

// Read returns the recorded process identity as written.
func (f *Flag) Read() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// PID returns the recorded process id.
func (f *Flag) PID() (int, error) {
	raw, err := f.Read()
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("liveness flag holds %q: %w", raw, err)
	}
	return pid, nil
}

// Remove deletes the flag. A missing flag is not an error.
func (f *Flag) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove liveness flag: %w", err)
	}
	return nil
}

// RemoveIfOwner deletes the flag only if it still records pid, so a daemon
// never clears a flag written by a newer instance.
func (f *Flag) RemoveIfOwner(pid int) (bool, error) {
	owner, err := f.PID()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil || owner != pid {
		return false, nil
	}
	return true, f.Remove()
}
