package mbe

import (
	"fmt"
	"log"
	"sort"
	"time"
)

// FollowEntry is one variable being polled.
type FollowEntry struct {
	Name      string
	Bytes     int
	LSB       uint8
	Frequency time.Duration // recorded, every entry is read each cycle
}

// FollowList holds the polled variables per page, each page kept sorted by
// address low byte. Build it before polling starts; it is not safe to
// mutate while a Poller is running.
type FollowList struct {
	cat   *Catalog
	pages map[uint8][]FollowEntry
}

func NewFollowList(cat *Catalog) *FollowList {
	return &FollowList{cat: cat, pages: make(map[uint8][]FollowEntry)}
}

// Add resolves name and inserts it into its page in address order.
func (f *FollowList) Add(name string, freq time.Duration) error {
	v, err := f.cat.Lookup(name)
	if err != nil {
		return err
	}

	entries := f.pages[v.Page]
	lsb := v.LSB()
	i := sort.Search(len(entries), func(i int) bool { return entries[i].LSB >= lsb })
	if i < len(entries) && entries[i].LSB == lsb {
		return fmt.Errorf("%w: %q shares page 0x%02x offset 0x%02x with %q",
			ErrDuplicateVariable, name, v.Page, lsb, entries[i].Name)
	}

	entries = append(entries, FollowEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = FollowEntry{Name: v.Name, Bytes: v.Bytes, LSB: lsb, Frequency: freq}
	f.pages[v.Page] = entries
	return nil
}

// AddList adds names in order and returns how many were inserted. A count
// below len(names) means some names were unknown or duplicates.
func (f *FollowList) AddList(names []string, freq time.Duration) int {
	n := 0
	for _, name := range names {
		if err := f.Add(name, freq); err != nil {
			log.Printf("[mbe] follow: %v", err)
			continue
		}
		n++
	}
	return n
}

// Pages returns the pages with at least one entry, ascending.
func (f *FollowList) Pages() []uint8 {
	out := make([]uint8, 0, len(f.pages))
	for page, entries := range f.pages {
		if len(entries) > 0 {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns a copy of the ordered entries for page.
func (f *FollowList) Entries(page uint8) []FollowEntry {
	out := make([]FollowEntry, len(f.pages[page]))
	copy(out, f.pages[page])
	return out
}

// Len is the total number of followed variables.
func (f *FollowList) Len() int {
	n := 0
	for _, entries := range f.pages {
		n += len(entries)
	}
	return n
}

// Names lists followed variables in poll order.
func (f *FollowList) Names() []string {
	var out []string
	for _, page := range f.Pages() {
		for _, e := range f.pages[page] {
			out = append(out, e.Name)
		}
	}
	return out
}

// Request builds the read request for page.
func (f *FollowList) Request(page uint8) []byte {
	return BuildRequest(page, f.pages[page])
}
