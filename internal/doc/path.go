package doc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned when a path string does not match the
// accounts/{accountId}/{collection}[/{documentId}] schema.
var ErrInvalidPath = errors.New("invalid document path")

// CollectionProjects is the only collection the core synchronizes.
const CollectionProjects = "projects"

const accountsRoot = "accounts"

// Path addresses a document or a collection in an account-scoped store.
// A Path with an empty DocumentID addresses the collection itself.
type Path struct {
	AccountID  string
	Collection string
	DocumentID string
}

// ProjectsPath returns the projects collection path for an account.
func ProjectsPath(accountID string) Path {
	return Path{AccountID: accountID, Collection: CollectionProjects}
}

// ProjectPath returns the path of a single project document.
func ProjectPath(accountID, projectID string) Path {
	return Path{AccountID: accountID, Collection: CollectionProjects, DocumentID: projectID}
}

// IsCollection reports whether the path addresses a collection.
func (p Path) IsCollection() bool {
	return p.DocumentID == ""
}

// CollectionPath returns the collection containing this path.
func (p Path) CollectionPath() Path {
	return Path{AccountID: p.AccountID, Collection: p.Collection}
}

// Doc returns the path of a document inside this collection.
func (p Path) Doc(id string) Path {
	return Path{AccountID: p.AccountID, Collection: p.Collection, DocumentID: id}
}

// String renders the path as accounts/{accountId}/{collection}[/{documentId}].
func (p Path) String() string {
	s := accountsRoot + "/" + p.AccountID + "/" + p.Collection
	if p.DocumentID != "" {
		s += "/" + p.DocumentID
	}
	return s
}

// Prefix returns the string every document path in this collection starts with.
func (p Path) Prefix() string {
	return p.CollectionPath().String() + "/"
}

// Validate checks that every segment is present and contains no separator.
// Document paths must have a document id; collection paths must not.
func (p Path) Validate(wantDocument bool) error {
	segments := []struct {
		name, value string
	}{
		{"account id", p.AccountID},
		{"collection", p.Collection},
	}
	if wantDocument {
		segments = append(segments, struct{ name, value string }{"document id", p.DocumentID})
	} else if p.DocumentID != "" {
		return fmt.Errorf("%w: %s addresses a document, want a collection", ErrInvalidPath, p)
	}
	for _, seg := range segments {
		if seg.value == "" {
			return fmt.Errorf("%w: empty %s", ErrInvalidPath, seg.name)
		}
		if strings.Contains(seg.value, "/") {
			return fmt.Errorf("%w: %s %q contains '/'", ErrInvalidPath, seg.name, seg.value)
		}
	}
	return nil
}

// ParsePath parses accounts/{accountId}/{collection}[/{documentId}].
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != accountsRoot {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	p := Path{AccountID: parts[1], Collection: parts[2]}
	if len(parts) == 4 {
		p.DocumentID = parts[3]
	}
	if err := p.Validate(!p.IsCollection()); err != nil {
		return Path{}, err
	}
	return p, nil
}
