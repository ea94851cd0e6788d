package codec

import (
	"errors"

	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/remote"
)

// DecodeProjects decodes every document of a snapshot independently and
// keeps snapshot order. Documents that fail are dropped; their errors are
// returned so callers can log them.
func DecodeProjects(snap remote.Snapshot) ([]model.Project, []error) {
	projects := make([]model.Project, 0, len(snap))
	var errs []error
	for _, d := range snap {
		p, err := DecodeProject(d.Data)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) && de.DocumentID == "" {
				de.DocumentID = d.ID
			}
			errs = append(errs, err)
			continue
		}
		projects = append(projects, p)
	}
	return projects, errs
}
