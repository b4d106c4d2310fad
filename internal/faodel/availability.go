package faodel

// Availability says where (if anywhere) a column's object currently lives,
// from the perspective of the process answering an info query.
type Availability int

const (
	// AvailUnavailable means the column does not exist anywhere this
	// process knows about.
	AvailUnavailable Availability = iota
	// AvailWaiting means the column is absent but a waiter is registered
	// for it, so an info query reports Waiting rather than NotFound.
	AvailWaiting
	// AvailInLocalMemory means the object is in this process's own LKV.
	AvailInLocalMemory
	// AvailInRemoteMemory means the object is in another pool member's LKV.
	AvailInRemoteMemory
	// AvailInDisk means the object is only in a persistent IOM back-end.
	AvailInDisk
)

func (a Availability) String() string {
	switch a {
	case AvailWaiting:
		return "Waiting"
	case AvailInLocalMemory:
		return "InLocalMemory"
	case AvailInRemoteMemory:
		return "InRemoteMemory"
	case AvailInDisk:
		return "InDisk"
	default:
		return "Unavailable"
	}
}
