package mail

import (
	"fmt"
	"strconv"
	"strings"
)

// EntryID identifies one entry within a mailbox stream. The store assigns
// ids of the form <ms>-<seq>: a millisecond timestamp and a per-millisecond
// sequence number. Ids are monotonically non-decreasing within a mailbox and
// compare numerically on Ms then Seq.
type EntryID struct {
	Ms  int64
	Seq int64
}

// ParseEntryID parses the <ms>-<seq> wire form.
func ParseEntryID(s string) (EntryID, error) {
	ms, seq, ok := strings.Cut(s, "-")
	if !ok {
		return EntryID{}, fmt.Errorf("entry id %q: missing sequence separator", s)
	}
	m, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || m < 0 {
		return EntryID{}, fmt.Errorf("entry id %q: invalid milliseconds", s)
	}
	q, err := strconv.ParseInt(seq, 10, 64)
	if err != nil || q < 0 {
		return EntryID{}, fmt.Errorf("entry id %q: invalid sequence", s)
	}
	return EntryID{Ms: m, Seq: q}, nil
}

// String renders the id in its <ms>-<seq> wire form.
func (id EntryID) String() string {
	return strconv.FormatInt(id.Ms, 10) + "-" + strconv.FormatInt(id.Seq, 10)
}

// Compare returns -1, 0 or 1 as id sorts before, equal to or after o.
func (id EntryID) Compare(o EntryID) int {
	switch {
	case id.Ms < o.Ms:
		return -1
	case id.Ms > o.Ms:
		return 1
	case id.Seq < o.Seq:
		return -1
	case id.Seq > o.Seq:
		return 1
	}
	return 0
}

// Less reports whether id sorts strictly before o.
func (id EntryID) Less(o EntryID) bool {
	return id.Compare(o) < 0
}

// IsZero reports whether the id is the zero value, which no store ever
// assigns to a real entry.
func (id EntryID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}
