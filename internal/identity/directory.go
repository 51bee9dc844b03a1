package identity

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// StaticDirectory is a fixed member set, usually loaded from a TOML file:
//
//	[[members]]
//	email = "ana@example.com"
//	name = "Ana Lima"
//	document_handle = "notion-user-1"
type StaticDirectory struct {
	members []Member
}

// NewStaticDirectory creates a directory over members.
func NewStaticDirectory(members []Member) *StaticDirectory {
	return &StaticDirectory{members: append([]Member(nil), members...)}
}

// LoadDirectoryFile reads a TOML member directory.
func LoadDirectoryFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read member directory: %w", err)
	}
	var doc struct {
		Members []Member `toml:"members"`
	}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parse member directory %s: %w", path, err)
	}
	for i, m := range doc.Members {
		if m.Email == "" {
			return nil, fmt.Errorf("member directory %s: entry %d has no email", path, i)
		}
	}
	return NewStaticDirectory(doc.Members), nil
}

// Members returns a copy of the member set.
func (d *StaticDirectory) Members(context.Context) ([]Member, error) {
	return append([]Member(nil), d.members...), nil
}
