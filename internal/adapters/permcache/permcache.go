// Package permcache implements the reviewer permission cache spec.md §6
// alludes to under the optional "team membership changed" webhook: a
// write-permission check consulted by the Ui adapter before it ever emits
// an Approved event, refreshed out-of-band instead of on every comment.
//
// Grounded on the original Rust implementation's AuthManager/GithubUI
// membership cache (original_source/src/ui/github/mod.rs's
// user_has_write/teams_with_write/user_is_member_of triangle): a
// lock-guarded set of users known to have write access per repo, checked
// by team membership when the repo is configured as team-gated and by a
// flat collaborator list otherwise. The state machine itself never calls
// this package; only the Ui adapter does, preserving spec.md §4.4's
// statement that the state machine assumes permission was already
// checked.
package permcache

import "sync"

// Cache holds the last-known set of users allowed to issue review commands
// for each repo, refreshed explicitly by a caller (typically in response to
// a "team membership changed" webhook or a periodic full resync) rather
// than on every comment.
type Cache struct {
	mu      sync.RWMutex
	allowed map[string]map[string]bool // repo -> user -> allowed
}

// New returns an empty Cache. An empty cache denies everyone until
// populated by SetAll, Add, or Remove; callers that want to run without a
// permission cache should simply not consult one (see
// githubui.PermissionChecker being nil-safe).
func New() *Cache {
	return &Cache{allowed: make(map[string]map[string]bool)}
}

// Allowed reports whether user currently has write access to repo.
func (c *Cache) Allowed(repo, user string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allowed[repo][user]
}

// SetAll replaces the full set of allowed users for repo, e.g. after
// resyncing collaborators or a team's membership list in response to a
// "team membership changed" event.
func (c *Cache) SetAll(repo string, users []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[string]bool, len(users))
	for _, u := range users {
		set[u] = true
	}
	c.allowed[repo] = set
}

// Add grants user write access to repo, e.g. on a "member added" event.
func (c *Cache) Add(repo, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allowed[repo] == nil {
		c.allowed[repo] = make(map[string]bool)
	}
	c.allowed[repo][user] = true
}

// Remove revokes user's write access to repo, e.g. on a "member removed"
// event.
func (c *Cache) Remove(repo, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.allowed[repo], user)
}
