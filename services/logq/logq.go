// Package logq is the bounded diagnostic queue between producer tasks and
// the single console writer. Posting is allowed to block briefly; a full
// queue drops the line rather than stalling the producer.
package logq

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"linkcore-go/x/timex"
)

type Config struct {
	Depth       int           // queued lines (default 5)
	MaxMsg      int           // bytes per line before truncation (default 256)
	PostTimeout time.Duration // post gives up after this (default 100ms)
	RecvTimeout time.Duration // consumer wakes at least this often (default 2s)
}

type Queue struct {
	ch      chan string
	maxMsg  int
	postTO  time.Duration
	recvTO  time.Duration
	dropped atomic.Uint32
}

func New(cfg Config) *Queue {
	if cfg.Depth <= 0 {
		cfg.Depth = 5
	}
	if cfg.MaxMsg <= 0 {
		cfg.MaxMsg = 256
	}
	if cfg.PostTimeout <= 0 {
		cfg.PostTimeout = 100 * time.Millisecond
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = 2 * time.Second
	}
	return &Queue{
		ch:     make(chan string, cfg.Depth),
		maxMsg: cfg.MaxMsg,
		postTO: cfg.PostTimeout,
		recvTO: cfg.RecvTimeout,
	}
}

// Post enqueues one line, truncated to the configured size. It waits up to
// the post timeout for space and reports whether the line was accepted.
func (q *Queue) Post(msg string) bool {
	if len(msg) > q.maxMsg {
		msg = msg[:q.maxMsg]
	}
	select {
	case q.ch <- msg:
		return true
	default:
	}
	t := time.NewTimer(q.postTO)
	defer t.Stop()
	select {
	case q.ch <- msg:
		return true
	case <-t.C:
		q.dropped.Add(1)
		return false
	}
}

// Dropped reports lines rejected because the queue stayed full.
func (q *Queue) Dropped() uint32 { return q.dropped.Load() }

var crlf = []byte("\r\n")

// Run drains the queue to w until ctx is done. feed, when non-nil, is
// called every loop iteration whether or not a line arrived; the receive
// timeout bounds the gap between calls.
func (q *Queue) Run(ctx context.Context, w io.Writer, feed func()) {
	t := time.NewTimer(q.recvTO)
	defer t.Stop()

	for {
		timex.ResetTimer(t, q.recvTO)
		select {
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			w.Write([]byte(msg))
			w.Write(crlf)
			if feed != nil {
				feed()
			}
		case <-t.C:
			if feed != nil {
				feed()
			}
		}
	}
}
