// Package wrb implements the L2-only write-back buffer: a
// reservation structure that decouples the sending of
// subset-invalidation and write-back messages from the pipelines, and
// lets a cache-to-cache write-back "smart MSHR" outlive the request
// that spawned it.
package wrb

import "github.com/sarchlab/cohecache/timing/reqpool"

// Entry is one reserved slot.
type Entry struct {
	Valid bool

	Tag uint64

	// Primary is the request that reserved this slot (normally the
	// L2 MSHR's request at the moment it allocated).
	Primary reqpool.Index
	// Secondary is an optional companion request, e.g. a write-back
	// clubbed with an invalidation.
	Secondary reqpool.Index

	DoneData bool
	DoneL1   bool
	Dirty    bool
	Stalling bool
}

// Buffer is the fixed-size array of wrb_buf_size = max_mshrs + extra
// slots.
type Buffer struct {
	entries []Entry
}

// New returns a Buffer with size slots.
func New(size int) *Buffer {
	return &Buffer{entries: make([]Entry, size)}
}

// Size returns the slot count.
func (b *Buffer) Size() int { return len(b.entries) }

// Used returns the number of currently reserved slots.
func (b *Buffer) Used() int {
	n := 0
	for i := range b.entries {
		if b.entries[i].Valid {
			n++
		}
	}
	return n
}

// Hit returns the slot reserved for tag, or -1.
func (b *Buffer) Hit(tag uint64) int {
	for i := range b.entries {
		if b.entries[i].Valid && b.entries[i].Tag == tag {
			return i
		}
	}
	return -1
}

// HitMarkStall is Hit, but also marks the slot as having a stalled
// requester, for an incoming REQUEST that aliases an in-flight victim.
func (b *Buffer) HitMarkStall(tag uint64) int {
	slot := b.Hit(tag)
	if slot >= 0 {
		b.entries[slot].Stalling = true
	}
	return slot
}

// Insert reserves a free slot for tag with primary (and optional
// secondary, pass reqpool.NoIndex if absent) requests, returning the
// slot index, or -1 if the buffer is full.
func (b *Buffer) Insert(tag uint64, primary, secondary reqpool.Index) int {
	for i := range b.entries {
		if !b.entries[i].Valid {
			b.entries[i] = Entry{Valid: true, Tag: tag, Primary: primary, Secondary: secondary}
			return i
		}
	}
	return -1
}

// Remove releases slot.
func (b *Buffer) Remove(slot int) {
	b.entries[slot] = Entry{}
}

// Replace promotes the secondary request of slot into the primary
// position, clearing secondary and the completion bits so the
// now-primary write-back can run its own completion handshake.
func (b *Buffer) Replace(slot int) {
	e := &b.entries[slot]
	e.Primary = e.Secondary
	e.Secondary = reqpool.NoIndex
	e.DoneData = false
	e.DoneL1 = false
}

// MarkDoneData records that the L2-data side of the write-back has
// completed; withdata records whether it carried data (PR_DY) or was
// downgraded to a hint (PR_CL).
func (b *Buffer) MarkDoneData(tag uint64, withdata bool) {
	slot := b.Hit(tag)
	if slot < 0 {
		panic("wrb: mark_done_data on unknown tag")
	}
	b.entries[slot].DoneData = true
	b.entries[slot].Dirty = withdata
}

// MarkDoneL1 records that the L1 side of the write-back has completed.
func (b *Buffer) MarkDoneL1(tag uint64) {
	slot := b.Hit(tag)
	if slot < 0 {
		panic("wrb: mark_done_l1 on unknown tag")
	}
	b.entries[slot].DoneL1 = true
}

// MarkUndoneL1 clears the L1-side completion bit, used when an RAR
// bounces a reply that had already recorded L1 completion.
func (b *Buffer) MarkUndoneL1(tag uint64) {
	slot := b.Hit(tag)
	if slot < 0 {
		panic("wrb: mark_undone_l1 on unknown tag")
	}
	b.entries[slot].DoneL1 = false
}

// CheckDoneL1 reports whether the L1 side of slot's write-back has
// completed.
func (b *Buffer) CheckDoneL1(tag uint64) bool {
	slot := b.Hit(tag)
	if slot < 0 {
		return false
	}
	return b.entries[slot].DoneL1
}

// CheckStalling reports whether a requester is waiting behind tag's
// in-flight victim.
func (b *Buffer) CheckStalling(tag uint64) bool {
	slot := b.Hit(tag)
	if slot < 0 {
		return false
	}
	return b.entries[slot].Stalling
}

// ReadyToSend reports whether both the L2-data path and the L1 path
// have completed, meaning the outbound write-back message may now be
// sent downstream (§4.4 invariant).
func (b *Buffer) ReadyToSend(slot int) bool {
	e := &b.entries[slot]
	return e.DoneData && e.DoneL1
}

// DowngradeToRepl reports whether the outgoing message should be
// downgraded from WRB to REPL (no data): both L1 and L2 held the line
// clean.
func DowngradeToRepl(l2WasDirty, l1WasDirty bool) bool {
	return !l2WasDirty && !l1WasDirty
}

// L2Dirty reports the L2-side dirty bit recorded by MarkDoneData for
// slot, used together with the L1 side's own answer to decide
// DowngradeToRepl.
func (b *Buffer) L2Dirty(slot int) bool {
	return b.entries[slot].Dirty
}
