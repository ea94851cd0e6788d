package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevisionDeterminism(t *testing.T) {
	m := Map{"id": String("p1"), "title": String("Launch")}

	rev1, err := Revision(m)
	require.NoError(t, err)
	rev2, err := Revision(m.Clone())
	require.NoError(t, err)

	assert.Equal(t, rev1, rev2, "Revision must be deterministic")
	assert.Len(t, rev1, 64, "SHA-256 hex is 64 characters")
}

func TestRevisionChangesWithContent(t *testing.T) {
	a := MustRevision(Map{"id": String("p1"), "title": String("Launch")})
	b := MustRevision(Map{"id": String("p1"), "title": String("Launch v2")})

	assert.NotEqual(t, a, b)
}

func TestRevisionIgnoresKeyInsertionOrder(t *testing.T) {
	a := MustRevision(NewMap(P("a", Int(1)), P("b", Int(2))))
	b := MustRevision(NewMap(P("b", Int(2)), P("a", Int(1))))

	assert.Equal(t, a, b)
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{}`)

	assert.NotEqual(t, hashWithDomain(DomainDocument, data), hashWithDomain(DomainSnapshot, data))
}

func TestSnapshotRevision(t *testing.T) {
	docs := []Map{{"title": String("A")}, {"title": String("B")}}

	rev1, err := SnapshotRevision([]string{"p1", "p2"}, docs)
	require.NoError(t, err)
	rev2, err := SnapshotRevision([]string{"p2", "p1"}, []Map{docs[1], docs[0]})
	require.NoError(t, err)

	assert.NotEqual(t, rev1, rev2, "snapshot order is part of the revision")

	_, err = SnapshotRevision([]string{"p1"}, docs)
	require.Error(t, err)
}
