package codec

import (
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/model"
)

// EncodeProject converts a project into its document form. Nil slices and
// nil pointers are omitted; empty slices are written as empty arrays.
func EncodeProject(p model.Project) doc.Map {
	m := doc.Map{
		"id":          doc.String(p.ID),
		"title":       doc.String(p.Title),
		"description": doc.String(p.Description),
	}
	putString(m, "iconName", p.IconName)
	putString(m, "iconColor", p.IconColor)
	putTime(m, "createdAt", p.CreatedAt)
	putString(m, "status", string(p.Status))
	putTimePtr(m, "dueDate", p.DueDate)
	putString(m, "ownerId", p.OwnerID)
	if p.Tasks != nil {
		tasks := make(doc.Array, len(p.Tasks))
		for i, t := range p.Tasks {
			tasks[i] = EncodeTask(t)
		}
		m["tasks"] = tasks
	}
	if p.TeamLeader != nil {
		m["teamLeader"] = EncodeUser(*p.TeamLeader)
	}
	if p.TeamMembers != nil {
		members := make(doc.Array, len(p.TeamMembers))
		for i, u := range p.TeamMembers {
			members[i] = EncodeUser(u)
		}
		m["teamMembers"] = members
	}
	return m
}

// clearableProjectFields are the optional project fields EncodeProject
// omits when empty.
var clearableProjectFields = []string{"iconName", "iconColor", "dueDate", "teamLeader"}

// EncodeProjectPatch is EncodeProject for merge writes. Optional fields that
// are empty are written as null, so a merge clears them remotely instead of
// keeping the stored value.
func EncodeProjectPatch(p model.Project) doc.Map {
	m := EncodeProject(p)
	for _, k := range clearableProjectFields {
		if _, ok := m[k]; !ok {
			m[k] = doc.Null{}
		}
	}
	return m
}

// DecodeProject converts a document into a project.
func DecodeProject(m doc.Map) (model.Project, error) {
	id, err := requiredID(KindProject, m)
	if err != nil {
		return model.Project{}, err
	}
	title, err := requiredString(KindProject, id, m, "title")
	if err != nil {
		return model.Project{}, err
	}

	p := model.Project{
		ID:          id,
		Title:       title,
		Description: optString(m, "description"),
		IconName:    optString(m, "iconName"),
		IconColor:   optString(m, "iconColor"),
		DueDate:     optTimePtr(m, "dueDate"),
		OwnerID:     optString(m, "ownerId"),
	}
	if t, ok := optTime(m, "createdAt"); ok {
		p.CreatedAt = t
	}
	if s := model.Status(optString(m, "status")); s.Valid() {
		p.Status = s
	}
	if arr, ok := optArray(m, "tasks"); ok {
		p.Tasks = make([]model.ProjectTask, 0, len(arr))
		for _, elem := range arr {
			tm, ok := elem.(doc.Map)
			if !ok {
				continue
			}
			t, err := DecodeTask(tm)
			if err != nil {
				continue
			}
			p.Tasks = append(p.Tasks, t)
		}
	}
	if lm, ok := optMap(m, "teamLeader"); ok {
		if u, err := DecodeUser(lm); err == nil {
			p.TeamLeader = &u
		}
	}
	if arr, ok := optArray(m, "teamMembers"); ok {
		p.TeamMembers = decodeUsers(arr)
	}
	return p, nil
}

// EncodeTask converts a task into its document form.
func EncodeTask(t model.ProjectTask) doc.Map {
	m := doc.Map{
		"id":          doc.String(t.ID),
		"title":       doc.String(t.Title),
		"description": doc.String(t.Description),
		"isCompleted": doc.Bool(t.IsCompleted),
	}
	putString(m, "priority", string(t.Priority))
	putTime(m, "createdAt", t.CreatedAt)
	putTimePtr(m, "dueDate", t.DueDate)
	putString(m, "projectId", t.ProjectID)
	if t.Assignee != nil {
		m["assignee"] = EncodeUser(*t.Assignee)
	}
	if t.Comments != nil {
		comments := make(doc.Array, len(t.Comments))
		for i, c := range t.Comments {
			comments[i] = EncodeComment(c)
		}
		m["comments"] = comments
	}
	return m
}

// DecodeTask converts a document into a task.
func DecodeTask(m doc.Map) (model.ProjectTask, error) {
	id, err := requiredID(KindTask, m)
	if err != nil {
		return model.ProjectTask{}, err
	}
	title, err := requiredString(KindTask, id, m, "title")
	if err != nil {
		return model.ProjectTask{}, err
	}

	t := model.ProjectTask{
		ID:          id,
		Title:       title,
		Description: optString(m, "description"),
		DueDate:     optTimePtr(m, "dueDate"),
		IsCompleted: optBool(m, "isCompleted"),
		ProjectID:   optString(m, "projectId"),
	}
	if ct, ok := optTime(m, "createdAt"); ok {
		t.CreatedAt = ct
	}
	if p := model.Priority(optString(m, "priority")); p.Valid() {
		t.Priority = p
	}
	if am, ok := optMap(m, "assignee"); ok {
		if u, err := DecodeUser(am); err == nil {
			t.Assignee = &u
		}
	}
	if arr, ok := optArray(m, "comments"); ok {
		t.Comments = make([]model.Comment, 0, len(arr))
		for _, elem := range arr {
			cm, ok := elem.(doc.Map)
			if !ok {
				continue
			}
			c, err := DecodeComment(cm)
			if err != nil {
				continue
			}
			t.Comments = append(t.Comments, c)
		}
	}
	return t, nil
}

// EncodeComment converts a comment into its document form.
func EncodeComment(c model.Comment) doc.Map {
	m := doc.Map{
		"id":     doc.String(c.ID),
		"author": EncodeUser(c.Author),
		"text":   doc.String(c.Text),
	}
	putTime(m, "createdAt", c.CreatedAt)
	return m
}

// DecodeComment converts a document into a comment. An author that does not
// decode leaves Author zero.
func DecodeComment(m doc.Map) (model.Comment, error) {
	id, err := requiredID(KindComment, m)
	if err != nil {
		return model.Comment{}, err
	}
	c := model.Comment{
		ID:   id,
		Text: optString(m, "text"),
	}
	if am, ok := optMap(m, "author"); ok {
		if u, err := DecodeUser(am); err == nil {
			c.Author = u
		}
	}
	if t, ok := optTime(m, "createdAt"); ok {
		c.CreatedAt = t
	}
	return c, nil
}

// EncodeUser converts a user snapshot into its document form.
func EncodeUser(u model.User) doc.Map {
	m := doc.Map{"id": doc.String(u.ID)}
	putString(m, "displayName", u.DisplayName)
	putString(m, "email", u.Email)
	putString(m, "avatarURL", u.AvatarURL)
	putTimePtr(m, "createdAt", u.CreatedAt)
	return m
}

// DecodeUser converts a document into a user snapshot.
func DecodeUser(m doc.Map) (model.User, error) {
	id, err := requiredID(KindUser, m)
	if err != nil {
		return model.User{}, err
	}
	return model.User{
		ID:          id,
		DisplayName: optString(m, "displayName"),
		Email:       optString(m, "email"),
		AvatarURL:   optString(m, "avatarURL"),
		CreatedAt:   optTimePtr(m, "createdAt"),
	}, nil
}

func decodeUsers(arr doc.Array) []model.User {
	out := make([]model.User, 0, len(arr))
	for _, elem := range arr {
		um, ok := elem.(doc.Map)
		if !ok {
			continue
		}
		u, err := DecodeUser(um)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}
