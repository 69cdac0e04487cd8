// Package flushgate coordinates one appender, one durabilizer and any number of
// observers around a single append-only file.
//
// The appender writes bytes and advances the written offset. The durabilizer,
// woken by write-complete, captures the written offset, syncs the file and
// publishes the captured value as the durable offset, then fires
// flush-complete. Observers, woken by flush-complete, read only [0, durable)
// by direct read or through a read-only mapping.
//
//	s, _ := flushgate.Open(config.Default(dir))
//	go s.Durabilizer().Run(ctx)
//	obs, _ := s.NewObserver(flushgate.StrategyMapped)
//	s.Appender().Append(ctx, payload)
//	data, _ := obs.Observe(ctx) // data == payload
//
// A failed append or sync never moves an offset; waiters stay blocked until a
// later round succeeds, their deadline passes (ErrTimeout) or the session
// closes (ErrClosed).
package flushgate
