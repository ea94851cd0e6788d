// Package codec maps typed entities to and from generic documents.
//
// Decoding is tolerant: unknown keys are ignored, optional fields that are
// missing or of the wrong shape decode to zero values, and elements of nested
// arrays that fail to decode are dropped. Only a missing or malformed
// required field (id, and title for projects and tasks) fails a document,
// and it fails only that document.
//
// Wire keys:
//
//	project  id title description iconName iconColor createdAt status dueDate
//	         tasks teamLeader teamMembers ownerId
//	task     id title description assignee dueDate comments isCompleted
//	         priority createdAt projectId
//	comment  id author text createdAt
//	user     id displayName email avatarURL createdAt
//
// Dates are written as RFC 3339 strings in UTC with nanoseconds. Numeric
// seconds since the epoch are accepted on decode.
package codec
