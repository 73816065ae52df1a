// SPDX-License-Identifier: AGPL-3.0-only

package test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/log"
)

type testingLogger struct {
	t  testing.TB
	mu sync.Mutex
	// lines keeps every record so tests can assert on what was logged.
	lines []string
}

// TestingLogger logs through t.Log in logfmt and remembers every line.
type TestingLogger interface {
	log.Logger
	Lines() []string
	Contains(substr string) bool
}

func NewTestingLogger(t testing.TB) TestingLogger {
	return &testingLogger{
		t: t,
	}
}

func (l *testingLogger) Log(keyvals ...interface{}) error {
	var buf bytes.Buffer
	if err := log.NewLogfmtLogger(&buf).Log(keyvals...); err != nil {
		return err
	}
	line := strings.TrimSuffix(buf.String(), "\n")
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
	l.t.Log(line)
	return nil
}

func (l *testingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func (l *testingLogger) Contains(substr string) bool {
	for _, line := range l.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
