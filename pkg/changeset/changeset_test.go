package changeset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	users = NewTable("users",
		Column{Name: "id", PrimaryKey: true, Generated: true},
		Column{Name: "user_name"},
		Column{Name: "lockout_end"},
	)
	userRoles = NewTable("user_roles",
		Column{Name: "user_id", PrimaryKey: true},
		Column{Name: "role_id", PrimaryKey: true},
	)
)

func newSet() *Set {
	return NewSet(NewSchema(users, userRoles))
}

func TestSchema(t *testing.T) {
	s := NewSchema(users)

	tbl, err := s.Table("users")
	require.NoError(t, err)
	assert.Same(t, users, tbl)

	_, err = s.Table("roles")
	assert.ErrorIs(t, err, ErrUnknownTable)

	extended := s.With(userRoles)
	assert.Equal(t, []string{"user_roles", "users"}, extended.TableNames())
	assert.Equal(t, []string{"users"}, s.TableNames())

	pk := userRoles.PrimaryKey()
	require.Len(t, pk, 2)
	assert.Equal(t, "user_id", pk[0].Name)
	assert.Equal(t, "role_id", pk[1].Name)
}

func TestSet_Add(t *testing.T) {
	s := newSet()

	e, err := s.Add("users", nil, map[string]any{"user_name": "alice"})
	require.NoError(t, err)
	assert.Equal(t, Added, e.State)
	assert.True(t, e.HasTemporary())
	assert.True(t, e.Field("id").Temporary)

	_, ok := e.Value("id")
	assert.False(t, ok)
	assert.Equal(t, map[string]any{"user_name": "alice"}, e.Values())

	withKey, err := s.Add("users", nil, map[string]any{"id": int64(7), "user_name": "bob"})
	require.NoError(t, err)
	assert.False(t, withKey.HasTemporary())

	_, err = s.Add("users", nil, map[string]any{"nickname": "x"})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = s.Add("groups", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownTable)

	assert.Len(t, s.Pending(), 2)
}

func TestSet_Attach(t *testing.T) {
	s := newSet()

	_, err := s.Attach("user_roles", nil, map[string]any{"user_id": int64(1)})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = s.Attach("users", nil, map[string]any{"id": int64(1), "email": "a@example.com"})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	e, err := s.Attach("users", nil, map[string]any{"id": int64(1), "user_name": "alice"})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, e.State)
	assert.Empty(t, s.Pending())
	assert.Len(t, s.Entries(), 1)
}

func TestEntry_SetValue(t *testing.T) {
	s := newSet()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e, err := s.Attach("users", nil, map[string]any{"id": int64(1), "user_name": "alice", "lockout_end": ts})
	require.NoError(t, err)

	require.NoError(t, e.SetValue("user_name", "alicia"))
	assert.Equal(t, Modified, e.State)
	assert.True(t, e.Field("user_name").Modified)

	require.NoError(t, e.SetValue("user_name", "alice"))
	assert.Equal(t, Unchanged, e.State)

	require.NoError(t, e.SetValue("lockout_end", ts.In(time.FixedZone("CEST", 2*3600))))
	assert.Equal(t, Unchanged, e.State, "equal instants in another zone are not a change")

	err = e.SetValue("email", "x")
	assert.ErrorIs(t, err, ErrFieldNotLoaded)

	require.NoError(t, s.Remove(e))
	err = e.SetValue("user_name", "bob")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSet_Remove(t *testing.T) {
	s := newSet()

	added, err := s.Add("users", nil, map[string]any{"user_name": "temp"})
	require.NoError(t, err)
	require.NoError(t, s.Remove(added))
	assert.Equal(t, Detached, added.State)

	stored, err := s.Attach("users", nil, map[string]any{"id": int64(2), "user_name": "bob"})
	require.NoError(t, err)
	require.NoError(t, stored.SetValue("user_name", "robert"))
	require.NoError(t, s.Remove(stored))
	assert.Equal(t, Deleted, stored.State)
	assert.Equal(t, "bob", stored.Field("user_name").Current)
	assert.False(t, stored.Field("user_name").Modified)

	assert.ErrorIs(t, s.Remove(added), ErrInvalidState)
	assert.Equal(t, []*Entry{stored}, s.Pending())
}

func TestSet_AcceptChanges(t *testing.T) {
	s := newSet()

	added, err := s.Add("users", nil, map[string]any{"id": int64(1), "user_name": "alice"})
	require.NoError(t, err)
	modified, err := s.Attach("users", nil, map[string]any{"id": int64(2), "user_name": "bob"})
	require.NoError(t, err)
	require.NoError(t, modified.SetValue("user_name", "robert"))
	deleted, err := s.Attach("users", nil, map[string]any{"id": int64(3), "user_name": "carol"})
	require.NoError(t, err)
	require.NoError(t, s.Remove(deleted))

	s.AcceptChanges()

	assert.Equal(t, Unchanged, added.State)
	assert.Equal(t, "alice", added.Field("user_name").Original)
	assert.Equal(t, Unchanged, modified.State)
	assert.Equal(t, "robert", modified.Field("user_name").Original)
	assert.Equal(t, Detached, deleted.State)
	assert.Len(t, s.Entries(), 2)
	assert.Empty(t, s.Pending())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Added", Added.String())
	assert.Equal(t, "Detached", Detached.String())
	assert.Equal(t, "State(42)", State(42).String())
}
