// Package mock provides scripted ISOBUS links for tests.
//
// Every write consumes the next scripted Reply. A reply left unread when
// the next write arrives is dropped, the same way a real controller's late
// answer is flushed by the next command.
package mock

import (
	"fmt"

	"github.com/roffe/goisobus"
)

type Reply struct {
	Line string
	// Err is returned by the read instead of Line.
	Err error
	// Silent replies never arrive.
	Silent bool
}

func Line(s string) Reply {
	return Reply{Line: s}
}

func Fail(err error) Reply {
	return Reply{Err: err}
}

func Silence() Reply {
	return Reply{Silent: true}
}

// Repeat returns n copies of r.
func Repeat(r Reply, n int) []Reply {
	out := make([]Reply, n)
	for i := range out {
		out[i] = r
	}
	return out
}

type script struct {
	replies []Reply
	pending *Reply
}

func (s *script) next() {
	s.pending = nil
	if len(s.replies) == 0 {
		return
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.Silent {
		return
	}
	s.pending = &r
}

func (s *script) read(maxLen int) (string, error) {
	r := s.pending
	s.pending = nil
	if r == nil {
		return "", fmt.Errorf("%w: no reply", isobus.ErrTimeout)
	}
	if r.Err != nil {
		return "", r.Err
	}
	line := r.Line
	if maxLen > 0 && len(line) > maxLen {
		line = line[:maxLen]
	}
	return line, nil
}
