package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/jg-phare/taskcore/pkg/types"
)

const (
	messagesFile = "messages.jsonl"
	metaFile     = "task.json"
	maxLineSize  = 10 * 1024 * 1024 // 10 MB
)

// Op names in the message log.
const (
	OpPut    = "put"
	OpRemove = "remove"
	OpClear  = "clear"
)

// entry is one line of the message log.
type entry struct {
	Op      string                `json:"op"`
	Message *types.ContextMessage `json:"message,omitempty"`
	IDs     []string              `json:"ids,omitempty"`
}

func encodeEntry(e entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// replay rebuilds history from the log. A put for a known id replaces the
// message in place; removes drop ids; clear empties history. Corrupt lines
// are skipped.
func replay(path string) ([]types.ContextMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var h history
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip corrupt lines
		}
		h.apply(e)
	}
	return h.messages(), scanner.Err()
}

// history is an ordered id-indexed message list used during replay.
type history struct {
	msgs  []types.ContextMessage
	index map[string]int
	dirty bool // removals pending compaction of msgs
	gone  map[string]bool
}

func (h *history) apply(e entry) {
	if h.index == nil {
		h.index = make(map[string]int)
		h.gone = make(map[string]bool)
	}
	switch e.Op {
	case OpPut:
		if e.Message == nil {
			return
		}
		if i, ok := h.index[e.Message.ID]; ok && !h.gone[e.Message.ID] {
			h.msgs[i] = *e.Message
			return
		}
		h.compact()
		h.index[e.Message.ID] = len(h.msgs)
		h.msgs = append(h.msgs, *e.Message)
	case OpRemove:
		for _, id := range e.IDs {
			if _, ok := h.index[id]; ok {
				h.gone[id] = true
				h.dirty = true
			}
		}
	case OpClear:
		h.msgs = nil
		h.index = make(map[string]int)
		h.gone = make(map[string]bool)
		h.dirty = false
	}
}

// compact drops removed messages and reindexes.
func (h *history) compact() {
	if !h.dirty {
		return
	}
	kept := h.msgs[:0]
	for _, m := range h.msgs {
		if h.gone[m.ID] {
			continue
		}
		kept = append(kept, m)
	}
	h.msgs = kept
	h.index = make(map[string]int, len(kept))
	for i, m := range kept {
		h.index[m.ID] = i
	}
	h.gone = make(map[string]bool)
	h.dirty = false
}

func (h *history) messages() []types.ContextMessage {
	h.compact()
	return h.msgs
}

// encodeSnapshot renders msgs as a log of puts.
func encodeSnapshot(msgs []types.ContextMessage) ([]byte, error) {
	var buf bytes.Buffer
	for i := range msgs {
		line, err := encodeEntry(entry{Op: OpPut, Message: &msgs[i]})
		if err != nil {
			return nil, err
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}
