package ledger

import (
	"context"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// Record is a value stored under an address.
type Record interface {
	RecordKind() string
}

// Tx is the view of the store inside one atomic operation. A Tx is only
// valid for the duration of the callback it was passed to.
type Tx interface {
	// CreateIfAbsent stores rec at addr, failing with ErrAlreadyExists when
	// the address is occupied.
	CreateIfAbsent(addr Address, rec Record) error
	// GetOrCreate loads the record at addr into rec, or stores rec as the
	// initial value when the address is empty.
	GetOrCreate(addr Address, rec Record) (created bool, err error)
	// Load fails with ErrNotFound when addr is empty.
	Load(addr Address, rec Record) error
	// Save overwrites a record previously loaded or created in this Tx.
	Save(addr Address, rec Record) error
}

// Store runs transactions. Update commits every write made by fn or none of
// them; View rejects writes with ErrReadOnly.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is the stored form of a record. Version starts at 1 and grows by one
// per committed write; an absent address has version 0.
type Entry struct {
	Kind    string
	Data    []byte
	Version int64
}

func Encode(rec Record) (Entry, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s: %w", rec.RecordKind(), err)
	}
	return Entry{Kind: rec.RecordKind(), Data: data}, nil
}

func Decode(e Entry, rec Record) error {
	if e.Kind != rec.RecordKind() {
		return fmt.Errorf("%w: stored %s, want %s", ErrKindMismatch, e.Kind, rec.RecordKind())
	}
	if err := json.Unmarshal(e.Data, rec); err != nil {
		return fmt.Errorf("decode %s: %w", e.Kind, err)
	}
	return nil
}

// FetchFunc reads the committed entry at addr; ok is false when absent.
type FetchFunc func(addr Address) (e Entry, ok bool, err error)

// Read is an address observed by a transaction and the version it saw.
type Read struct {
	Addr    Address
	Version int64
}

// Write is a buffered write. Prev is the version it replaces, 0 for inserts.
type Write struct {
	Addr  Address
	Entry Entry
	Prev  int64
}

// BufferedTx implements Tx over a FetchFunc, caching reads and buffering
// writes until the adapter commits them. Each address is fetched at most once.
type BufferedTx struct {
	fetch    FetchFunc
	readOnly bool
	slots    map[Address]*slot
}

type slot struct {
	entry  Entry
	exists bool
	dirty  bool
	prev   int64
}

func NewBufferedTx(fetch FetchFunc, readOnly bool) *BufferedTx {
	return &BufferedTx{fetch: fetch, readOnly: readOnly, slots: make(map[Address]*slot)}
}

func (t *BufferedTx) lookup(addr Address) (*slot, error) {
	if s, ok := t.slots[addr]; ok {
		return s, nil
	}
	e, ok, err := t.fetch(addr)
	if err != nil {
		return nil, err
	}
	s := &slot{entry: e, exists: ok, prev: e.Version}
	if !ok {
		s.prev = 0
	}
	t.slots[addr] = s
	return s, nil
}

func (t *BufferedTx) put(s *slot, rec Record) error {
	if t.readOnly {
		return ErrReadOnly
	}
	e, err := Encode(rec)
	if err != nil {
		return err
	}
	e.Version = s.prev + 1
	s.entry = e
	s.exists = true
	s.dirty = true
	return nil
}

func (t *BufferedTx) Load(addr Address, rec Record) error {
	s, err := t.lookup(addr)
	if err != nil {
		return err
	}
	if !s.exists {
		return fmt.Errorf("%s %s: %w", rec.RecordKind(), addr, ErrNotFound)
	}
	return Decode(s.entry, rec)
}

func (t *BufferedTx) CreateIfAbsent(addr Address, rec Record) error {
	s, err := t.lookup(addr)
	if err != nil {
		return err
	}
	if s.exists {
		return fmt.Errorf("%s %s: %w", rec.RecordKind(), addr, ErrAlreadyExists)
	}
	return t.put(s, rec)
}

func (t *BufferedTx) GetOrCreate(addr Address, rec Record) (bool, error) {
	s, err := t.lookup(addr)
	if err != nil {
		return false, err
	}
	if s.exists {
		return false, Decode(s.entry, rec)
	}
	return true, t.put(s, rec)
}

func (t *BufferedTx) Save(addr Address, rec Record) error {
	s, ok := t.slots[addr]
	if !ok || !s.exists {
		return fmt.Errorf("save %s %s: %w", rec.RecordKind(), addr, ErrNotFound)
	}
	if s.entry.Kind != rec.RecordKind() {
		return fmt.Errorf("%w: stored %s, want %s", ErrKindMismatch, s.entry.Kind, rec.RecordKind())
	}
	return t.put(s, rec)
}

// Reads returns every fetched address in address order.
func (t *BufferedTx) Reads() []Read {
	reads := make([]Read, 0, len(t.slots))
	for addr, s := range t.slots {
		reads = append(reads, Read{Addr: addr, Version: s.prev})
	}
	sort.Slice(reads, func(i, j int) bool { return lessAddr(reads[i].Addr, reads[j].Addr) })
	return reads
}

// Writes returns the buffered writes in address order.
func (t *BufferedTx) Writes() []Write {
	var writes []Write
	for addr, s := range t.slots {
		if s.dirty {
			writes = append(writes, Write{Addr: addr, Entry: s.entry, Prev: s.prev})
		}
	}
	sort.Slice(writes, func(i, j int) bool { return lessAddr(writes[i].Addr, writes[j].Addr) })
	return writes
}

func lessAddr(a, b Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
