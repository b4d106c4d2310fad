package dirman

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/logging"
)

// dirKey identifies a directory by bucket and path only. The resource type
// is deliberately excluded so a reference-only lookup ("ref:/myplace")
// resolves the same entry a "dht:/myplace" definition created.
func dirKey(url faodel.ResourceURL) string {
	return fmt.Sprintf("%d|%s", url.Bucket, url.FullPath())
}

// Authority is the centralized directory service: one process runs it and
// every other node's Client talks to it (directly, if co-located, or over
// an opbox round trip otherwise). It holds every directory ever defined and
// the members that have joined each.
type Authority struct {
	mu   sync.RWMutex
	dirs map[string]*DirectoryInfo
}

// NewAuthority returns an empty directory authority.
func NewAuthority() *Authority {
	return &Authority{dirs: map[string]*DirectoryInfo{}}
}

// DefineNewDir creates url as a new directory with infoText and minMembers,
// auto-creating any missing ancestor directories along url's path (spec
// §4.4's "mkdir -p" semantics) as zero-member containers. Every directory,
// the leaf included, is listed in its parent's members under its own name,
// so walking a parent reveals its children. Fails with CodeAlreadyExists if
// url itself is already defined.
func (a *Authority) DefineNewDir(url faodel.ResourceURL, infoText string, minMembers int) error {
	key := dirKey(url)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.dirs[key]; exists {
		return faodel.NewError(faodel.CodeAlreadyExists, "dirman: %s already defined", url.String())
	}
	a.ensureAncestorsLocked(url)
	a.dirs[key] = &DirectoryInfo{URL: url, InfoText: infoText, MinMembers: minMembers}
	a.linkToParentLocked(url)
	logging.Op().Info("dirman: directory defined", "url", url.String(), "min_members", minMembers)
	return nil
}

// ensureAncestorsLocked creates, root-down, any ancestor directory of url
// that doesn't exist yet as an empty, no-minimum container, linking each
// into its own parent as it goes. Caller must hold a.mu for writing.
func (a *Authority) ensureAncestorsLocked(url faodel.ResourceURL) {
	full := url.FullPath()
	if full == "/" {
		return
	}
	segs := strings.Split(strings.TrimPrefix(full, "/"), "/")
	path := ""
	for i := 0; i < len(segs)-1; i++ {
		path += "/" + segs[i]
		ancestor := url.WithPath(path)
		key := dirKey(ancestor)
		if _, exists := a.dirs[key]; !exists {
			a.dirs[key] = &DirectoryInfo{URL: ancestor}
			a.linkToParentLocked(ancestor)
		}
	}
}

// linkToParentLocked records url's own name in its parent's member list,
// keyed by the URL's reference node (UnspecifiedNode when the child has no
// declared host yet). Caller must hold a.mu for writing.
func (a *Authority) linkToParentLocked(url faodel.ResourceURL) {
	parent := url.ParentPath()
	if parent == "" || url.Name == "" {
		return
	}
	pdir, ok := a.dirs[dirKey(url.WithPath(parent))]
	if !ok {
		return
	}
	for _, m := range pdir.Members {
		if m.MemberInfo == url.Name {
			return
		}
	}
	pdir.Members = append(pdir.Members, Member{NodeID: url.Reference, MemberInfo: url.Name, JoinedAt: time.Now()})
}

// HostNewDir is DefineNewDir under the name the hosting node uses: it
// creates url (and any missing ancestors) and, like DefineNewDir, fails with
// CodeAlreadyExists if url itself is already defined.
func (a *Authority) HostNewDir(url faodel.ResourceURL, infoText string, minMembers int) error {
	return a.DefineNewDir(url, infoText, minMembers)
}

// JoinDirWithName adds a member named memberInfo to url's directory and
// returns the post-join state. A name that collides with an existing
// member's fails with CodeInvalidInput.
func (a *Authority) JoinDirWithName(url faodel.ResourceURL, id faodel.NodeID, memberInfo string) (DirectoryInfo, error) {
	return a.join(url, id, memberInfo)
}

// JoinDirWithoutName adds a member under a generated name, deterministic
// from the current member count ("m0", "m1", ...).
func (a *Authority) JoinDirWithoutName(url faodel.ResourceURL, id faodel.NodeID) (DirectoryInfo, error) {
	return a.join(url, id, "")
}

func (a *Authority) join(url faodel.ResourceURL, id faodel.NodeID, memberInfo string) (DirectoryInfo, error) {
	key := dirKey(url)
	a.mu.Lock()
	defer a.mu.Unlock()
	dir, ok := a.dirs[key]
	if !ok {
		return DirectoryInfo{}, faodel.NewError(faodel.CodeNotFound, "dirman: %s is not defined", url.String())
	}
	if dir.HasMember(id) {
		return cloneLocked(dir), nil
	}
	name := memberInfo
	if name == "" {
		name = fmt.Sprintf("m%d", len(dir.Members))
	}
	for _, m := range dir.Members {
		if m.MemberInfo == name {
			return DirectoryInfo{}, faodel.NewError(faodel.CodeInvalidInput, "dirman: member name %q already taken in %s", name, url.String())
		}
	}
	dir.Members = append(dir.Members, Member{NodeID: id, MemberInfo: name, JoinedAt: time.Now()})
	return cloneLocked(dir), nil
}

// LeaveDir removes id from url's membership and returns the post-leave
// state. Leaving a directory that is not defined, or a node that never
// joined, is a no-op success.
func (a *Authority) LeaveDir(url faodel.ResourceURL, id faodel.NodeID) (DirectoryInfo, error) {
	key := dirKey(url)
	a.mu.Lock()
	defer a.mu.Unlock()
	dir, ok := a.dirs[key]
	if !ok {
		return DirectoryInfo{}, nil
	}
	for i, m := range dir.Members {
		if m.NodeID == id {
			dir.Members = append(dir.Members[:i], dir.Members[i+1:]...)
			break
		}
	}
	return cloneLocked(dir), nil
}

// DropDir removes url entirely, regardless of membership. It does not
// propagate to cached clients or shut down nodes in the resource (spec
// §4.4).
func (a *Authority) DropDir(url faodel.ResourceURL) error {
	key := dirKey(url)
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.dirs, key)
	return nil
}

// GetDirectoryInfo returns a copy of url's directory entry.
func (a *Authority) GetDirectoryInfo(url faodel.ResourceURL) (DirectoryInfo, error) {
	key := dirKey(url)
	a.mu.RLock()
	defer a.mu.RUnlock()
	dir, ok := a.dirs[key]
	if !ok {
		return DirectoryInfo{}, faodel.NewError(faodel.CodeNotFound, "dirman: %s is not defined", url.String())
	}
	return cloneLocked(dir), nil
}

// Locate is GetDirectoryInfo's name in the client-facing vocabulary (spec
// §4.4): given a URL, return where it lives.
func (a *Authority) Locate(url faodel.ResourceURL) (DirectoryInfo, error) {
	return a.GetDirectoryInfo(url)
}

func cloneLocked(dir *DirectoryInfo) DirectoryInfo {
	cp := *dir
	cp.Members = append([]Member(nil), dir.Members...)
	return cp
}
