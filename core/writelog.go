// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"bytes"
	"sort"
)

// WriteLog is the mutable overlay of pending storage mutations produced by
// a single Tx execution. A VP runner is handed a Snapshot of it: an
// immutable view frozen at the moment the Tx finished. Grounded on the
// teacher's memStateWrapper, generalized from a single flat map into an
// overlay over a borrowed Storage so reads fall through on miss.
type WriteLog struct {
	base    Storage
	written map[string][]byte
	deleted map[string]bool
	order   []string // insertion order of touched keys, for KeysChanged
}

func NewWriteLog(base Storage) *WriteLog {
	return &WriteLog{
		base:    base,
		written: make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (w *WriteLog) touch(key string) {
	if _, ok := w.written[key]; ok {
		return
	}
	if w.deleted[key] {
		return
	}
	w.order = append(w.order, key)
}

func (w *WriteLog) Write(key, value []byte) {
	k := string(key)
	w.touch(k)
	w.written[k] = append([]byte(nil), value...)
	delete(w.deleted, k)
}

func (w *WriteLog) Delete(key []byte) {
	k := string(key)
	w.touch(k)
	delete(w.written, k)
	w.deleted[k] = true
}

func (w *WriteLog) Read(key []byte) ([]byte, bool, error) {
	k := string(key)
	if w.deleted[k] {
		return nil, false, nil
	}
	if v, ok := w.written[k]; ok {
		return append([]byte(nil), v...), true, nil
	}
	return w.base.Read(key)
}

func (w *WriteLog) HasKey(key []byte) (bool, error) {
	k := string(key)
	if w.deleted[k] {
		return false, nil
	}
	if _, ok := w.written[k]; ok {
		return true, nil
	}
	return w.base.HasKey(key)
}

func (w *WriteLog) IterPrefix(prefix []byte) (StateIterator, error) {
	baseIter, err := w.base.IterPrefix(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	keys := make([]string, 0)
	for k := range w.written {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for baseIter.Next() {
		k := string(baseIter.Key())
		if w.deleted[k] || seen[k] {
			continue
		}
		keys = append(keys, k)
		seen[k] = true
	}
	sort.Strings(keys)
	return &writeLogIterator{log: w, keys: keys, pos: -1}, baseIter.Error()
}

// KeysChanged returns the storage keys touched by this overlay, in the
// deterministic order §3's VpInput.keys_changed requires, restricted to
// keys with the given address prefix.
func (w *WriteLog) KeysChanged(addrPrefix []byte) [][]byte {
	out := make([][]byte, 0, len(w.order))
	for _, k := range w.order {
		if bytes.HasPrefix([]byte(k), addrPrefix) {
			out = append(out, []byte(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// Snapshot freezes the overlay into a read-only Storage view handed to VP
// runners. VP host calls must never observe mutation after this point.
func (w *WriteLog) Snapshot() Storage {
	frozenWritten := make(map[string][]byte, len(w.written))
	for k, v := range w.written {
		frozenWritten[k] = append([]byte(nil), v...)
	}
	frozenDeleted := make(map[string]bool, len(w.deleted))
	for k, v := range w.deleted {
		frozenDeleted[k] = v
	}
	return &snapshot{base: w.base, written: frozenWritten, deleted: frozenDeleted}
}

type snapshot struct {
	base    Storage
	written map[string][]byte
	deleted map[string]bool
}

func (s *snapshot) Read(key []byte) ([]byte, bool, error) {
	k := string(key)
	if s.deleted[k] {
		return nil, false, nil
	}
	if v, ok := s.written[k]; ok {
		return append([]byte(nil), v...), true, nil
	}
	return s.base.Read(key)
}

func (s *snapshot) HasKey(key []byte) (bool, error) {
	k := string(key)
	if s.deleted[k] {
		return false, nil
	}
	if _, ok := s.written[k]; ok {
		return true, nil
	}
	return s.base.HasKey(key)
}

func (s *snapshot) IterPrefix(prefix []byte) (StateIterator, error) {
	baseIter, err := s.base.IterPrefix(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	keys := make([]string, 0)
	for k := range s.written {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for baseIter.Next() {
		k := string(baseIter.Key())
		if s.deleted[k] || seen[k] {
			continue
		}
		keys = append(keys, k)
		seen[k] = true
	}
	sort.Strings(keys)
	return &snapshotIterator{snap: s, keys: keys, pos: -1}, baseIter.Error()
}

type writeLogIterator struct {
	log  *WriteLog
	keys []string
	pos  int
}

func (it *writeLogIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *writeLogIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.pos])
}

func (it *writeLogIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	v, _, _ := it.log.Read([]byte(it.keys[it.pos]))
	return v
}

func (it *writeLogIterator) Error() error { return nil }

type snapshotIterator struct {
	snap *snapshot
	keys []string
	pos  int
}

func (it *snapshotIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *snapshotIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.pos])
}

func (it *snapshotIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	v, _, _ := it.snap.Read([]byte(it.keys[it.pos]))
	return v
}

func (it *snapshotIterator) Error() error { return nil }
