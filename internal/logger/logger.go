// Package logger builds the node's logrus logger and keeps the most recent
// entries in memory for the status API.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Message represents a single log entry kept in the ring.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"`
}

// Options configures New.
type Options struct {
	Level    string
	Format   string // "text" or "json"
	RingSize int
	Output   io.Writer
}

// New returns a logger writing to opts.Output (stderr by default) and the
// ring that records its entries.
func New(opts Options) (*logrus.Logger, *Ring) {
	log := logrus.New()
	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stderr)
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	ring := NewRing(opts.RingSize)
	log.AddHook(ring)
	return log, ring
}

// Ring is a logrus hook holding the last entries.
type Ring struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
}

// NewRing creates a ring holding up to maxSize entries.
func NewRing(maxSize int) *Ring {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Ring{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
	}
}

func (r *Ring) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire records entry. Fields are appended to the text as key=value pairs.
func (r *Ring) Fire(entry *logrus.Entry) error {
	text := entry.Message
	if len(entry.Data) > 0 {
		var b strings.Builder
		b.WriteString(text)
		for _, k := range sortedKeys(entry.Data) {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(toString(entry.Data[k]))
		}
		text = b.String()
	}
	r.add(Message{Timestamp: entry.Time, Text: text, Level: entry.Level.String()})
	return nil
}

func (r *Ring) add(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
	if len(r.messages) > r.maxSize {
		r.messages = r.messages[len(r.messages)-r.maxSize:]
	}
}

// GetRecent returns the most recent n messages (newest first)
func (r *Ring) GetRecent(n int) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.messages) {
		n = len(r.messages)
	}
	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = r.messages[len(r.messages)-1-i]
	}
	return result
}
