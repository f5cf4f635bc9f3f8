package models

// Record kinds stored alongside each ledger entry.
const (
	KindPoll        = "poll"
	KindCandidate   = "candidate"
	KindVoterRecord = "voter_record"
)

// Field widths.
const (
	MaxDescriptionLen   = 200
	MaxCandidateNameLen = 32
)

// Allocated record sizes: 8 byte discriminator followed by the fixed-width
// fields, strings carrying a 4 byte length prefix.
const (
	discriminatorLen = 8

	PollSpace        = discriminatorLen + 8 + (4 + MaxDescriptionLen) + 8 + 8 + 8 + 8
	CandidateSpace   = discriminatorLen + (4 + MaxCandidateNameLen) + 8
	VoterRecordSpace = discriminatorLen + 1 + 32
)

// Poll is a voting poll. PollStart and PollEnd are Unix seconds.
type Poll struct {
	PollID          uint64 `json:"poll_id"`
	Description     string `json:"description"`
	PollStart       uint64 `json:"poll_start"`
	PollEnd         uint64 `json:"poll_end"`
	CandidateAmount uint64 `json:"candidate_amount"`
	TotalVotes      uint64 `json:"total_votes"`
}

func (*Poll) RecordKind() string { return KindPoll }

// Candidate is an option registered under a poll.
type Candidate struct {
	CandidateName  string `json:"candidate_name"`
	CandidateVotes uint64 `json:"candidate_votes"`
}

func (*Candidate) RecordKind() string { return KindCandidate }

// VoterRecord marks whether an identity has voted in a poll. Poll holds the
// hex address of the poll the vote was cast in.
type VoterRecord struct {
	Voted bool   `json:"voted"`
	Poll  string `json:"poll,omitempty"`
}

func (*VoterRecord) RecordKind() string { return KindVoterRecord }
