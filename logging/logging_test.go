package logging

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	messages []string
	levels   []int
	fail     bool
}

func (s *recordingSender) SendLog(source string, level int, message string) error {
	if s.fail {
		return errors.New("collector unavailable")
	}
	s.messages = append(s.messages, source+": "+message)
	s.levels = append(s.levels, level)
	return nil
}

func TestLevelTranslation(t *testing.T) {
	for _, level := range []int{TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel} {
		require.Equal(t, level, FromLogrus(ToLogrus(level)))
	}
	require.Equal(t, "WARN", LogLevelToString(WarnLevel))
}

func TestForwardingHook(t *testing.T) {
	sender := &recordingSender{}
	logger := NewLogger(DebugLevel)
	logger.AddHook(NewForwardingHook("client-1", WarnLevel, sender))

	logger.Info("not forwarded")
	logger.WithField("action", "push").Warn("slow server")
	logger.Error("failed pull")

	require.Len(t, sender.messages, 2)
	require.Equal(t, "client-1: slow server map[action:push]", sender.messages[0])
	require.Equal(t, []int{WarnLevel, ErrorLevel}, sender.levels)
}

func TestForwardingHookStopsAfterFailure(t *testing.T) {
	sender := &recordingSender{fail: true}
	hook := NewForwardingHook("client-1", TraceLevel, sender)
	entry := logrus.NewEntry(logrus.New())
	entry.Level = logrus.ErrorLevel
	require.Error(t, hook.Fire(entry))
	sender.fail = false
	require.NoError(t, hook.Fire(entry))
	require.Empty(t, sender.messages)
}
