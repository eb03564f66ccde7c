// Package models defines server-side data models persisted in the database.
package models

import "time"

// TransferStatus is the durable lifecycle state of a TransferRecord.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusAccepted  TransferStatus = "accepted"
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
)

// rank orders statuses; completed and failed share the terminal rank.
func (s TransferStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s TransferStatus) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further transition is possible from s.
func (s TransferStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanMoveTo reports whether from -> to is a forward transition.
// Statuses never move backward and terminal statuses never change.
func (s TransferStatus) CanMoveTo(to TransferStatus) bool {
	if !s.Valid() || !to.Valid() || s.Terminal() {
		return false
	}
	return to.rank() > s.rank()
}

// Predecessors lists the statuses from which s is reachable.
func (s TransferStatus) Predecessors() []TransferStatus {
	var out []TransferStatus
	for _, from := range []TransferStatus{StatusPending, StatusAccepted, StatusCompleted, StatusFailed} {
		if from.CanMoveTo(s) {
			out = append(out, from)
		}
	}
	return out
}

// TransferRecord is the durable metadata of one logical transfer.
type TransferRecord struct {
	ID          string
	SenderID    string
	RecipientID string
	FileName    string
	FileSize    int64
	FileType    string
	// StorageHandle references the EncryptedObject holding the content;
	// empty for relay-only transfers.
	StorageHandle string
	Status        TransferStatus
	CreatedAt     time.Time
	// TransferredAt is set when the transfer completes.
	TransferredAt *time.Time
}

// Involves reports whether identity is the sender or the recipient.
func (r *TransferRecord) Involves(identity string) bool {
	return identity != "" && (r.SenderID == identity || r.RecipientID == identity)
}
