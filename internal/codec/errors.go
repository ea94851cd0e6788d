package codec

import "fmt"

// Entity kinds reported in DecodeError.
const (
	KindProject = "project"
	KindTask    = "task"
	KindComment = "comment"
	KindUser    = "user"
)

// DecodeError reports a document that could not be decoded because a
// required field is missing or has the wrong shape.
type DecodeError struct {
	Kind       string // project, task, comment, user
	DocumentID string // path document id when known
	Field      string
	Reason     string
}

func (e *DecodeError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("decode %s %s: field %q %s", e.Kind, e.DocumentID, e.Field, e.Reason)
	}
	return fmt.Sprintf("decode %s: field %q %s", e.Kind, e.Field, e.Reason)
}
