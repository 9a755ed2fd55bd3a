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
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chtc/chtc-logengine/generator"
)

// OpsLog is the central operations log. Every line reads
// "<timestamp> - <message>". The file is opened per write so it can be
// removed or truncated by an operator while the daemon runs.
type OpsLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewOpsLog(path string) *OpsLog {
	return &OpsLog{path: path, now: time.Now}
}

// Path returns the operations log location.
func (o *OpsLog) Path() string {
	return o.path
}

// Write appends one message line.
func (o *OpsLog) Write(msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	line := fmt.Sprintf("%s - %s\n", o.now().Format(generator.TimeLayout), msg)
	return appendLine(o.path, []byte(line))
}

func (o *OpsLog) Printf(format string, args ...any) error {
	return o.Write(fmt.Sprintf(format, args...))
}

// appendLine writes data to the end of path, creating the file if needed.
func appendLine(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
