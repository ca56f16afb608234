package logrus

import (
	"testing"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(base)}

	tests := []struct {
		name  string
		log   func(string, cache.Fields)
		level logrus.Level
	}{
		{"debug", l.Debug, logrus.DebugLevel},
		{"info", l.Info, logrus.InfoLevel},
		{"warn", l.Warn, logrus.WarnLevel},
		{"error", l.Error, logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()
			tt.log("querycache.evicted", cache.Fields{"reason": "gc"})

			entry := hook.LastEntry()
			if entry == nil {
				t.Fatal("expected an entry")
			}
			if entry.Level != tt.level {
				t.Errorf("expected level %v, got %v", tt.level, entry.Level)
			}
			if entry.Message != "querycache.evicted" {
				t.Errorf("unexpected message %q", entry.Message)
			}
			if entry.Data["reason"] != "gc" {
				t.Errorf("expected reason=gc, got %v", entry.Data["reason"])
			}
		})
	}
}
