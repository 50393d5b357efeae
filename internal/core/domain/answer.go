package domain

import (
	"iter"
	"strings"
	"sync/atomic"
)

// AnswerStream is a finite, single-use sequence of answer fragments.
type AnswerStream struct {
	Sources []Evidence
	// NoDocumentation is set when nothing has been indexed yet.
	NoDocumentation bool

	seq  iter.Seq2[string, error]
	used atomic.Bool
}

func NewAnswerStream(sources []Evidence, seq iter.Seq2[string, error]) *AnswerStream {
	return &AnswerStream{Sources: sources, seq: seq}
}

// StaticAnswer yields text as a single fragment.
func StaticAnswer(text string) *AnswerStream {
	return NewAnswerStream(nil, func(yield func(string, error) bool) {
		yield(text, nil)
	})
}

// Fragments returns the fragment sequence. Breaking out of the range loop
// cancels generation. A second call yields ErrStreamConsumed.
func (s *AnswerStream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}
		if s.seq == nil {
			return
		}
		s.seq(yield)
	}
}

// Collect drains the stream. On error the text produced so far is returned with it.
func (s *AnswerStream) Collect() (string, error) {
	var b strings.Builder
	for fragment, err := range s.Fragments() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}
