package session

import (
	"strconv"
	"sync/atomic"
)

// Sequence hands out strictly increasing numbers; safe for concurrent use.
type Sequence struct {
	n atomic.Int64
}

func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

func (s *Sequence) NextMessageID() string {
	return "msg_" + strconv.FormatInt(s.Next(), 10)
}
