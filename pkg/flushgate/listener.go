package flushgate

import "time"

// FlushEvent describes one successful publish of the durable offset.
type FlushEvent struct {
	Session      string        `json:"session"`
	Generation   uint64        `json:"generation"`
	Durable      Offset        `json:"durable_offset"`
	Written      Offset        `json:"written_offset"`
	SyncDuration time.Duration `json:"sync_duration_ns"`
	Time         time.Time     `json:"time"`
}

// FlushListener is notified after the durable offset has been published and
// flush-complete has fired. It runs on the durabilizer's goroutine; a slow
// listener delays the next flush but never the current publication.
type FlushListener interface {
	OnFlush(FlushEvent) error
}

// FlushListenerFunc adapts a function to FlushListener.
type FlushListenerFunc func(FlushEvent) error

func (f FlushListenerFunc) OnFlush(ev FlushEvent) error { return f(ev) }
