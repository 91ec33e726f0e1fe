package download

// State is the transfer state of an Item.
type State int

const (
	// StateIdle indicates no transfer has been started or the item was reset
	StateIdle State = iota
	// StateDownloading indicates a transfer goroutine is running
	StateDownloading
	// StateCancelled indicates the last transfer was cancelled before completion
	StateCancelled
	// StateFailed indicates the last transfer ended with an error
	StateFailed
	// StateComplete indicates the file is in the cache but not in permanent storage
	StateComplete
	// StateSaved indicates the file is in permanent storage
	StateSaved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	case StateComplete:
		return "complete"
	case StateSaved:
		return "saved"
	default:
		return "unknown"
	}
}
