package kthread

import "github.com/joeycumines/logiface"

// logger returns the configured logger. A nil receiver or nil logger is
// safe: logiface treats a nil *Logger as disabled, so call sites need no
// guards.
func (s *Scheduler) logger() *logiface.Logger[logiface.Event] {
	if s == nil {
		return nil
	}
	return s.log
}
