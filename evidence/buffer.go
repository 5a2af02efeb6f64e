// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package evidence

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/claimr-tools/claimr-go/errors"
)

type (
	// Epoch is one delivered batch of raw measurement lines, in arrival order.
	Epoch struct {
		Lines []string
	}

	// Progress reports how many epochs have been collected against the number
	// required for readiness.
	Progress struct {
		Current int
		Target  int
	}

	// Buffer is a concurrency-safe sliding window of epochs. It holds at most
	// maxEpochs entries; pushing onto a full window drops the oldest epoch.
	Buffer struct {
		mu        sync.RWMutex
		header    string
		minEpochs int
		items     []Epoch // Ring storage with capacity maxEpochs.
		size      int
		leave     int // Points to the oldest epoch.
	}
)

// New creates a buffer which becomes ready after minEpochs pushes and retains
// at most maxEpochs epochs. If maxEpochs is below minEpochs, it is raised to
// minEpochs. The header is prepended verbatim when serializing.
func New(minEpochs, maxEpochs int, header string) (*Buffer, error) {
	if minEpochs < 1 {
		return nil, &errors.Error{
			Message:       "minimum epochs must be positive",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "minEpochs",
			PropertyValue: minEpochs,
		}
	}
	maxEpochs = max(maxEpochs, minEpochs)

	return &Buffer{
		header:    header,
		minEpochs: minEpochs,
		items:     make([]Epoch, maxEpochs),
	}, nil
}

// Push splits a raw measurement message on line breaks and appends it as one
// epoch. Line bytes are kept as delivered, so an empty message is a single
// empty line. Anything other than a string is rejected as a protocol
// violation and never inserted.
func (b *Buffer) Push(raw any) error {
	msg, ok := raw.(string)
	if !ok {
		return &errors.Error{
			Message: fmt.Sprintf(
				"unexpected measurement payload, expected string, found %T",
				raw,
			),
			Kind:          errors.PayloadInvalid,
			PropertyValue: raw,
		}
	}

	lines := strings.Split(msg, "\n")

	b.mu.Lock()
	defer b.mu.Unlock()

	enter := (b.leave + b.size) % len(b.items)
	b.items[enter] = Epoch{Lines: lines}
	if b.size == len(b.items) {
		b.leave = b.move(b.leave)
	} else {
		b.size++
	}
	return nil
}

// IsReady returns whether the minimum number of epochs has been collected.
func (b *Buffer) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.size >= b.minEpochs
}

// Progress returns the collected epoch count against the readiness target.
func (b *Buffer) Progress() Progress {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Progress{Current: b.size, Target: b.minEpochs}
}

// Len returns the number of epochs in the window.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.size
}

// MaxEpochs returns the effective window capacity.
func (b *Buffer) MaxEpochs() int {
	return len(b.items)
}

// Epochs returns a copy of the window, oldest first.
func (b *Buffer) Epochs() []Epoch {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res := make([]Epoch, 0, b.size)
	for i := range b.size {
		e := b.items[(b.leave+i)%len(b.items)]
		res = append(res, Epoch{Lines: slices.Clone(e.Lines)})
	}
	return res
}

// Serialize renders the proof context: the header followed by every line of
// every epoch in arrival order, newline-joined.
func (b *Buffer) Serialize() string {
	var sb strings.Builder
	sb.WriteString(b.header)

	first := true
	for _, epoch := range b.Epochs() {
		for _, line := range epoch.Lines {
			if !first {
				sb.WriteByte('\n')
			}
			sb.WriteString(line)
			first = false
		}
	}
	return sb.String()
}

// Reset clears the window.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.items)
	b.size = 0
	b.leave = 0
}

// move increments the index circularly.
func (b *Buffer) move(index int) int {
	return (index + 1) % len(b.items)
}
