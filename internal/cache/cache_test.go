package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const usersDoc = `
query AllUsers {
	users {
		__typename
		id
		...UserFragment
	}
}

query AllUsersNonReactive {
	users {
		__typename
		id
		...UserFragment @nonreactive
	}
}

query OneUser($id: ID!) {
	user(id: $id) {
		__typename
		id
		name
	}
}

mutation EditUser($id: ID, $name: String, $zodiac: String) {
	editUser(id: $id, name: $name, zodiac: $zodiac) {
		__typename
		id
		name
		zodiac
	}
}

fragment UserFragment on User {
	__typename
	...NameFragment
	...ZodiacFragment
}

fragment NameFragment on User {
	name
}

fragment ZodiacFragment on User {
	zodiac
}
`

func parse(t *testing.T, src string) *ast.QueryDocument {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Input: src})
	require.NoError(t, err)
	return doc
}

func user(id, name, zodiac string) map[string]any {
	return map[string]any{"__typename": "User", "id": id, "name": name, "zodiac": zodiac}
}

func seeded(t *testing.T, users ...map[string]any) (*Cache, *ast.QueryDocument) {
	t.Helper()
	doc := parse(t, usersDoc)
	c := New()
	list := make([]any, len(users))
	for i := range users {
		list[i] = users[i]
	}
	require.NoError(t, c.WriteQuery(Operation{Document: doc, Name: "AllUsers"}, map[string]any{"users": list}))
	return c, doc
}

func editResult(id, name, zodiac string) map[string]any {
	return map[string]any{"editUser": user(id, name, zodiac)}
}

func TestWriteNormalizesEntities(t *testing.T) {
	c, _ := seeded(t, user("u1", "Ann", "Leo"), user("u2", "Bo", "Pisces"))

	want := map[string]map[string]any{
		RootQuery: {"users": []any{
			map[string]any{"__ref": "User:u1"},
			map[string]any{"__ref": "User:u2"},
		}},
		"User:u1": {"__typename": "User", "id": "u1", "name": "Ann", "zodiac": "Leo"},
		"User:u2": {"__typename": "User", "id": "u2", "name": "Bo", "zodiac": "Pisces"},
	}
	if diff := cmp.Diff(want, c.Extract()); diff != "" {
		t.Fatalf("unexpected cache contents (-want +got):\n%s", diff)
	}
}

func TestMutationResultVisibleToListQuery(t *testing.T) {
	c, doc := seeded(t, user("u1", "Ann", "Leo"))

	err := c.WriteQuery(Operation{Document: doc, Name: "EditUser"}, editResult("u1", "Ann", "Virgo"))
	require.NoError(t, err)

	data, err := c.ReadQuery(Operation{Document: doc, Name: "AllUsers"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"users": []any{user("u1", "Ann", "Virgo")}}, data)
}

func TestPartialWriteKeepsOtherFields(t *testing.T) {
	c, doc := seeded(t, user("u1", "Ann", "Leo"))

	err := c.WriteQuery(Operation{Document: doc, Name: "OneUser", Variables: map[string]any{"id": "u1"}},
		map[string]any{"user": map[string]any{"__typename": "User", "id": "u1", "name": "Alice"}})
	require.NoError(t, err)

	data, err := c.ReadFragment(Fragment{Document: doc, Name: "UserFragment", ID: "User:u1"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"__typename": "User", "name": "Alice", "zodiac": "Leo"}, data)
	require.Contains(t, c.Extract()[RootQuery], `user({"id":"u1"})`)
}

func TestReadReportsMissingFields(t *testing.T) {
	doc := parse(t, usersDoc)
	c := New()

	err := c.WriteQuery(Operation{Document: doc, Name: "OneUser", Variables: map[string]any{"id": "u1"}},
		map[string]any{"user": map[string]any{"__typename": "User", "id": "u1", "name": "Ann"}})
	require.NoError(t, err)

	data, err := c.ReadQuery(Operation{Document: doc, Name: "AllUsers"})
	require.True(t, errors.Is(err, ErrMissingField))
	require.Empty(t, data)

	data, err = c.ReadFragment(Fragment{Document: doc, Name: "UserFragment", ID: "User:u1"})
	var missing *MissingFieldError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []string{"zodiac"}, missing.Paths)
	require.Equal(t, "Ann", data["name"])
}

func TestFragmentNameRequiredWhenAmbiguous(t *testing.T) {
	c, doc := seeded(t, user("u1", "Ann", "Leo"))

	_, err := c.ReadFragment(Fragment{Document: doc, ID: "User:u1"})
	require.Error(t, err)
	_, err = c.ReadFragment(Fragment{Document: doc, Name: "Nope", ID: "User:u1"})
	require.Error(t, err)
}

func TestSkipAndInclude(t *testing.T) {
	doc := parse(t, `query Q($withZodiac: Boolean!) {
		users { __typename id name zodiac @include(if: $withZodiac) }
	}`)
	c := New()
	op := Operation{Document: doc, Variables: map[string]any{"withZodiac": false}}

	require.NoError(t, c.WriteQuery(op, map[string]any{"users": []any{
		map[string]any{"__typename": "User", "id": "u1", "name": "Ann", "zodiac": "ignored"},
	}}))
	require.NotContains(t, c.Extract()["User:u1"], "zodiac")

	data, err := c.ReadQuery(op)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"users": []any{
		map[string]any{"__typename": "User", "id": "u1", "name": "Ann"},
	}}, data)
}

func TestObjectsWithoutIdentityStayUnderParent(t *testing.T) {
	doc := parse(t, `query { stats { __typename total } }`)
	c := New()

	require.NoError(t, c.WriteQuery(Operation{Document: doc}, map[string]any{
		"stats": map[string]any{"__typename": "Stats", "total": float64(3)},
	}))
	require.Equal(t, map[string]any{"__ref": "ROOT_QUERY.stats"}, c.Extract()[RootQuery]["stats"])

	data, err := c.ReadQuery(Operation{Document: doc})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"stats": map[string]any{"__typename": "Stats", "total": float64(3)}}, data)
}

func TestPossibleTypes(t *testing.T) {
	doc := parse(t, `query { node { __typename id ... on Named { name } } }`)
	op := Operation{Document: doc}
	data := map[string]any{"node": map[string]any{"__typename": "User", "id": "u1", "name": "Ann"}}

	plain := New()
	require.NoError(t, plain.WriteQuery(op, data))
	require.NotContains(t, plain.Extract()["User:u1"], "name")

	aware := New(WithPossibleTypes(map[string][]string{"Named": {"User"}}))
	require.NoError(t, aware.WriteQuery(op, data))
	require.Equal(t, "Ann", aware.Extract()["User:u1"]["name"])
}

func TestEvictDropsDanglingListItems(t *testing.T) {
	c, doc := seeded(t, user("u1", "Ann", "Leo"), user("u2", "Bo", "Pisces"))

	require.True(t, c.Evict("User:u1"))
	require.False(t, c.Evict("User:u1"))

	data, err := c.ReadQuery(Operation{Document: doc, Name: "AllUsers"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"users": []any{user("u2", "Bo", "Pisces")}}, data)
}

func TestResetClearsEntries(t *testing.T) {
	c, _ := seeded(t, user("u1", "Ann", "Leo"))
	c.Reset()
	require.Empty(t, c.Keys())
}

func TestDefaultKeyFunc(t *testing.T) {
	key, ok := DefaultKeyFunc("User", map[string]any{"id": "u1"})
	require.True(t, ok)
	require.Equal(t, "User:u1", key)

	key, ok = DefaultKeyFunc("Item", map[string]any{"_id": float64(7)})
	require.True(t, ok)
	require.Equal(t, "Item:7", key)

	_, ok = DefaultKeyFunc("", map[string]any{"id": "u1"})
	require.False(t, ok)
	_, ok = DefaultKeyFunc("User", map[string]any{"name": "Ann"})
	require.False(t, ok)
}
