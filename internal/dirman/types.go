// Package dirman is the directory/naming service: a centralized authority
// mapping ResourceURLs to membership lists, with client-side caches so
// repeated Locate calls for the same URL don't round-trip every time (spec
// §4.4). Its registry/heartbeat-flavored bookkeeping is adapted from the
// cluster node registry this codebase's predecessor used to track compute
// nodes.
package dirman

import (
	"time"

	"github.com/faodel/kelpie/internal/faodel"
)

// Member is one node that has joined a directory.
type Member struct {
	NodeID     faodel.NodeID
	MemberInfo string
	JoinedAt   time.Time
}

// DirectoryInfo describes a single directory entry: the canonical URL it
// answers to, free-form info text set at definition time, the minimum
// member count a pool built on it expects before it is considered usable,
// and the current membership.
type DirectoryInfo struct {
	URL        faodel.ResourceURL
	InfoText   string
	MinMembers int
	Members    []Member
}

// HasMember reports whether id has already joined.
func (d DirectoryInfo) HasMember(id faodel.NodeID) bool {
	for _, m := range d.Members {
		if m.NodeID == id {
			return true
		}
	}
	return false
}

// IsComplete reports whether enough members have joined to satisfy
// MinMembers (0 means no minimum was set).
func (d DirectoryInfo) IsComplete() bool {
	return d.MinMembers <= 0 || len(d.Members) >= d.MinMembers
}
