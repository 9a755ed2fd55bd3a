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
	"time"

	"github.com/chtc/chtc-logengine/config"
	"github.com/chtc/chtc-logengine/generator"
	"github.com/goccy/go-json"
)

// jsonRecord is the on-disk shape of a record in the json format.
type jsonRecord struct {
	Timestamp string `json:"timestamp"`
	Thread    string `json:"thread"`
	PID       int    `json:"pid"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Context   string `json:"context"`
	Message   string `json:"message"`
}

// encode renders rec as one newline-terminated line in the given format.
func encode(format string, rec generator.Record) ([]byte, error) {
	switch format {
	case config.FormatLine:
		ms := rec.Timestamp.Nanosecond() / 1e6
		line := fmt.Sprintf("%s,%03d %s <unknown>[%d] %-5s [%s] (%s) %s\n",
			rec.Timestamp.Format(generator.TimeLayout), ms, rec.Thread, rec.PID,
			rec.Level, rec.Category, rec.Context, rec.Message)
		return []byte(line), nil
	case config.FormatJSON, "":
		data, err := json.Marshal(jsonRecord{
			Timestamp: rec.Timestamp.Format(generator.TimeLayout),
			Thread:    rec.Thread,
			PID:       rec.PID,
			Level:     rec.Level,
			Category:  rec.Category,
			Context:   rec.Context,
			Message:   rec.Message,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown stream format %q", format)
	}
}

// Decode parses one json-format stream line.
func Decode(line []byte) (generator.Record, error) {
	var jr jsonRecord
	if err := json.Unmarshal(line, &jr); err != nil {
		return generator.Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	ts, err := time.ParseInLocation(generator.TimeLayout, jr.Timestamp, time.Local)
	if err != nil {
		return generator.Record{}, fmt.Errorf("failed to decode record timestamp: %w", err)
	}
	return generator.Record{
		Timestamp: ts,
		Thread:    jr.Thread,
		PID:       jr.PID,
		Level:     jr.Level,
		Category:  jr.Category,
		Context:   jr.Context,
		Message:   jr.Message,
	}, nil
}
