package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Address namespaces.
const (
	PollNamespace      = "poll"
	CandidateNamespace = "candidate"
	VoterNamespace     = "voter"
)

// DefaultPrefix scopes addresses when no ledger namespace is configured.
const DefaultPrefix = "poll-ledger"

// Address is the 32 byte key a record is stored under.
type Address [32]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes the hex form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("parse address: want %d bytes, got %d", len(a), len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// Deriver maps (namespace, seed parts) to addresses owned by Prefix.
//
// The preimage is every component written as uvarint(len) || bytes, so two
// different seed tuples never share a preimage even when their concatenations
// are equal.
type Deriver struct {
	Prefix string
}

// NewDeriver returns a Deriver for prefix, falling back to DefaultPrefix.
func NewDeriver(prefix string) Deriver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Deriver{Prefix: prefix}
}

// Derive is deterministic and collision resistant across distinct inputs.
func (d Deriver) Derive(namespace string, parts ...[]byte) Address {
	h := sha256.New()
	buf := make([]byte, 0, binary.MaxVarintLen64)
	write := func(b []byte) {
		buf = binary.AppendUvarint(buf[:0], uint64(len(b)))
		h.Write(buf)
		h.Write(b)
	}
	write([]byte(d.Prefix))
	write([]byte(namespace))
	for _, p := range parts {
		write(p)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

func (d Deriver) Poll(pollID uint64) Address {
	return d.Derive(PollNamespace, pollSeed(pollID))
}

func (d Deriver) Candidate(pollID uint64, name string) Address {
	return d.Derive(CandidateNamespace, pollSeed(pollID), []byte(name))
}

func (d Deriver) VoterRecord(voter string, pollID uint64) Address {
	return d.Derive(VoterNamespace, []byte(voter), pollSeed(pollID))
}

// pollSeed encodes poll ids as 8 little-endian bytes.
func pollSeed(pollID uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, pollID)
}
