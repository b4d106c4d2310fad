package dirman

import (
	"context"
	"sync"
	"time"

	"github.com/faodel/kelpie/internal/faodel"
)

// DefaultCacheTTL bounds how long a Client trusts a Locate result before
// re-querying the authority. Membership can change under a cached entry
// (another node joining), so the TTL is short.
const DefaultCacheTTL = 5 * time.Second

type cacheEntry struct {
	info    DirectoryInfo
	expires time.Time
}

// Client is what pools and other consumers talk to. It is either
// co-located with the Authority (direct calls, no network) or remote
// (round-trips through opbox). Lookups go through a TTL-bounded cache so
// repeated Locate calls for a popular directory don't all hit the wire;
// any mutation this client itself performs invalidates the entry so the
// next Locate observes the post-mutation state immediately (spec §4.4).
type Client struct {
	local *Authority // non-nil when this process IS the authority
	rt    *RemoteOps // non-nil when talking to a remote authority

	mu    sync.RWMutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

// NewLocalClient builds a Client backed directly by an in-process
// Authority — the common case for a single-node deployment or the node
// that itself runs the centralized authority.
func NewLocalClient(a *Authority) *Client {
	return &Client{local: a, cache: map[string]cacheEntry{}, ttl: DefaultCacheTTL}
}

// NewRemoteClient builds a Client that talks to a remote authority over
// opbox ops registered by RegisterAuthorityOps/NewRemoteOps.
func NewRemoteClient(rt *RemoteOps) *Client {
	return &Client{rt: rt, cache: map[string]cacheEntry{}, ttl: DefaultCacheTTL}
}

func (c *Client) invalidate(url faodel.ResourceURL) {
	c.mu.Lock()
	delete(c.cache, dirKey(url))
	c.mu.Unlock()
}

// DefineNewDir defines a new directory at the authority.
func (c *Client) DefineNewDir(ctx context.Context, url faodel.ResourceURL, infoText string, minMembers int) error {
	defer c.invalidate(url)
	if c.local != nil {
		return c.local.DefineNewDir(url, infoText, minMembers)
	}
	return c.rt.DefineNewDir(ctx, url, infoText, minMembers)
}

// HostNewDir hosts a new directory at the authority; like DefineNewDir it
// fails with CodeAlreadyExists if url is already defined.
func (c *Client) HostNewDir(ctx context.Context, url faodel.ResourceURL, infoText string, minMembers int) error {
	defer c.invalidate(url)
	if c.local != nil {
		return c.local.HostNewDir(url, infoText, minMembers)
	}
	return c.rt.HostNewDir(ctx, url, infoText, minMembers)
}

// JoinDirWithName joins id (this process, typically) into url with
// memberInfo and returns the authority's post-join answer.
func (c *Client) JoinDirWithName(ctx context.Context, url faodel.ResourceURL, id faodel.NodeID, memberInfo string) (DirectoryInfo, error) {
	defer c.invalidate(url)
	if c.local != nil {
		return c.local.JoinDirWithName(url, id, memberInfo)
	}
	return c.rt.JoinDirWithName(ctx, url, id, memberInfo)
}

// JoinDirWithoutName joins id under an authority-generated member name.
func (c *Client) JoinDirWithoutName(ctx context.Context, url faodel.ResourceURL, id faodel.NodeID) (DirectoryInfo, error) {
	return c.JoinDirWithName(ctx, url, id, "")
}

// LeaveDir removes id from url's membership and returns the post-leave
// state.
func (c *Client) LeaveDir(ctx context.Context, url faodel.ResourceURL, id faodel.NodeID) (DirectoryInfo, error) {
	defer c.invalidate(url)
	if c.local != nil {
		return c.local.LeaveDir(url, id)
	}
	return c.rt.LeaveDir(ctx, url, id)
}

// DropDir removes url entirely.
func (c *Client) DropDir(ctx context.Context, url faodel.ResourceURL) error {
	defer c.invalidate(url)
	if c.local != nil {
		return c.local.DropDir(url)
	}
	return c.rt.DropDir(ctx, url)
}

// Locate resolves url's current DirectoryInfo, consulting the cache first.
func (c *Client) Locate(ctx context.Context, url faodel.ResourceURL) (DirectoryInfo, error) {
	key := dirKey(url)

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expires) {
		c.mu.RUnlock()
		return entry.info, nil
	}
	c.mu.RUnlock()

	var info DirectoryInfo
	var err error
	if c.local != nil {
		info, err = c.local.Locate(url)
	} else {
		info, err = c.rt.Locate(ctx, url)
	}
	if err != nil {
		return DirectoryInfo{}, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{info: info, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return info, nil
}

// GetDirectoryInfo is an alias for Locate, matching the authority's naming.
func (c *Client) GetDirectoryInfo(ctx context.Context, url faodel.ResourceURL) (DirectoryInfo, error) {
	return c.Locate(ctx, url)
}

// Opcode name constants shared between RemoteOps and the wire handler.
const (
	opLocate   = "dirman.locate"
	opDefine   = "dirman.define"
	opHostDir  = "dirman.host"
	opJoin     = "dirman.join"
	opLeaveDir = "dirman.leave"
	opDropDir  = "dirman.drop"
)
