package logging

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sender ships a single log message to a remote collector
type Sender interface {
	SendLog(source string, level int, message string) error
}

// ForwardingHook is a logrus.Hook which forwards entries at or above MinLevel to a Sender,
// so that the logs of many processes can be read in one place
type ForwardingHook struct {
	lock     sync.Mutex
	source   string
	minLevel int
	sender   Sender
	failed   bool
}

// NewForwardingHook creates a ForwardingHook for messages originating from source
func NewForwardingHook(source string, minLevel int, sender Sender) *ForwardingHook {
	return &ForwardingHook{source: source, minLevel: minLevel, sender: sender}
}

// Levels returns the logrus levels this hook fires for
func (h *ForwardingHook) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if FromLogrus(l) >= h.minLevel {
			levels = append(levels, l)
		}
	}
	return levels
}

// Fire forwards an entry. After the first failed send the hook stops forwarding, since
// the collector is most likely gone.
func (h *ForwardingHook) Fire(entry *logrus.Entry) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.failed || h.sender == nil {
		return nil
	}
	msg := entry.Message
	if len(entry.Data) > 0 {
		msg = fmt.Sprintf("%s %v", msg, entry.Data)
	}
	if err := h.sender.SendLog(h.source, FromLogrus(entry.Level), msg); err != nil {
		h.failed = true
		return err
	}
	return nil
}

// Detach stops forwarding
func (h *ForwardingHook) Detach() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.sender = nil
}
