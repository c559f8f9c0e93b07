package webrtc

// TransferStatus is the negotiation state carried inside FileMetadata.
type TransferStatus string

const (
	StatusPending    TransferStatus = "pending"
	StatusInProgress TransferStatus = "in_progress"
	StatusRejected   TransferStatus = "rejected"
	StatusCompleted  TransferStatus = "completed"
	StatusError      TransferStatus = "error"
	StatusCancelled  TransferStatus = "cancelled"
)

var transitions = map[TransferStatus][]TransferStatus{
	StatusPending:    {StatusInProgress, StatusRejected, StatusError, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusError, StatusCancelled},
}

// Valid reports whether s is one of the known statuses.
func (s TransferStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusRejected, StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s TransferStatus) CanTransition(next TransferStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TransferStatus) String() string {
	return string(s)
}
