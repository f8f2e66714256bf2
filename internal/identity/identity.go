// Package identity resolves users to the roles they hold. Authentication is
// out of scope; callers arrive with a user id already established.
package identity

import (
	"context"
	"os"
	"slices"
	"strings"
)

// Principal is the acting identity checked by task authorization.
type Principal interface {
	ID() string
	HasRole(role string) bool
}

// Directory answers role membership questions for user ids.
type Directory interface {
	HasRole(ctx context.Context, user, role string) bool
	Roles(ctx context.Context, user string) []string
}

// User is a Principal with a fixed role set.
type User struct {
	Name      string   `json:"id"`
	RoleNames []string `json:"roles"`
}

// NewUser creates a User holding roles.
func NewUser(id string, roles ...string) User {
	return User{Name: id, RoleNames: roles}
}

func (u User) ID() string { return u.Name }

func (u User) HasRole(role string) bool {
	return slices.Contains(u.RoleNames, role)
}

// Resolve snapshots the user's roles from dir into a Principal.
func Resolve(ctx context.Context, dir Directory, user string) User {
	return User{Name: user, RoleNames: dir.Roles(ctx, user)}
}

// Static is a Directory backed by a fixed user -> roles table.
type Static struct {
	users map[string][]string
}

// NewStatic builds a Static directory from cfg.
func NewStatic(cfg Config) *Static {
	users := make(map[string][]string, len(cfg.Users))
	for user, roles := range cfg.Users {
		users[user] = slices.Clone(roles)
	}
	return &Static{users: users}
}

func (s *Static) HasRole(_ context.Context, user, role string) bool {
	return slices.Contains(s.users[user], role)
}

func (s *Static) Roles(_ context.Context, user string) []string {
	return slices.Clone(s.users[user])
}

// Config holds the static user table.
type Config struct {
	Users map[string][]string `toml:"users"`
}

// Finalize reads additional entries from the environment variable named env,
// formatted "alice=employee|legal;bob=manager".
func (c *Config) Finalize(env string) error {
	if c.Users == nil {
		c.Users = make(map[string][]string)
	}
	if env == "" {
		return nil
	}
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	for _, entry := range strings.Split(v, ";") {
		user, roles, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || user == "" {
			continue
		}
		c.Users[user] = strings.Split(roles, "|")
	}
	return nil
}

// Merge adds or replaces users from overlay.
func (c *Config) Merge(overlay *Config) {
	if len(overlay.Users) == 0 {
		return
	}
	if c.Users == nil {
		c.Users = make(map[string][]string, len(overlay.Users))
	}
	for user, roles := range overlay.Users {
		c.Users[user] = roles
	}
}
