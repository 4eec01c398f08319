package subprocess

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/filter"
)

// LineSink receives every completed output line of every helper. Calls must
// not block.
type LineSink interface {
	Line(helper string, pid int, line string)
}

// NopSink discards lines.
type NopSink struct{}

func (NopSink) Line(string, int, string) {}

type sinkLine struct {
	helper string
	pid    int
	line   string
}

// LogSink forwards helper output to a zap logger at debug level. Lines are
// queued and written by a background goroutine; when the queue is full lines
// are dropped rather than stalling the output reader. Consecutive duplicate
// lines of one helper are collapsed.
type LogSink struct {
	log     *zap.Logger
	queue   chan sinkLine
	dedupes map[string]*filter.DedupeFilter
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewLogSink starts a sink writing to log. Close it to flush.
func NewLogSink(log *zap.Logger, queueSize int) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &LogSink{
		log:     log,
		queue:   make(chan sinkLine, queueSize),
		dedupes: map[string]*filter.DedupeFilter{},
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *LogSink) Line(helper string, pid int, line string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- sinkLine{helper: helper, pid: pid, line: line}:
	default:
	}
}

// Close drains the queue and stops the background writer.
func (s *LogSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *LogSink) run() {
	defer close(s.done)
	for l := range s.queue {
		d, ok := s.dedupes[l.helper]
		if !ok {
			d = filter.NewDedupeFilter(0)
			s.dedupes[l.helper] = d
		}
		res := d.Check(l.line)
		if res.Collapsed > 0 {
			s.log.Debug("helper output repeated",
				zap.String("helper", l.helper), zap.Int("pid", l.pid),
				zap.String("line", res.Previous), zap.Int("repeats", res.Collapsed))
		}
		if !res.ShouldEmit {
			continue
		}
		s.log.Debug("helper output", zap.String("helper", l.helper), zap.Int("pid", l.pid), zap.String("line", l.line))
	}
}
