package models

import (
	"strings"
	"time"
)

// Operator permissions
const (
	PermUsersRead     = "users:read"
	PermUsersWrite    = "users:write"
	PermSessionsRead  = "sessions:read"
	PermSessionsWrite = "sessions:write"
)

// ApiClient is an operator integration (CRM sync, back office) allowed to
// read leads and manage sessions
type ApiClient struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	ApiKey      string     `json:"-"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Permissions []string   `json:"permissions"`
}

// HasPermission checks a permission, honouring "users:*" and "*" wildcards
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}

	for _, perm := range c.Permissions {
		switch {
		case perm == "*", perm == required:
			return true
		case strings.HasSuffix(perm, ":*"):
			if strings.HasPrefix(required, strings.TrimSuffix(perm, "*")) {
				return true
			}
		}
	}

	return false
}

// MaskedApiKey returns the key prefix for logging
func (c *ApiClient) MaskedApiKey() string {
	return MaskKey(c.ApiKey)
}

// MaskKey returns the first 8 characters of a key
func MaskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}
