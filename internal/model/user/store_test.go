package user

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func counterIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func strPtr(s string) *string { return &s }

func TestSeedIsDeterministic(t *testing.T) {
	first := Seed(DefaultSeed, 25)
	second := Seed(DefaultSeed, 25)

	require.Len(t, first, 25)
	require.Equal(t, first, second)

	other := Seed(DefaultSeed+1, 25)
	require.NotEqual(t, first, other)
}

func TestSeedZeroCount(t *testing.T) {
	require.Empty(t, Seed(DefaultSeed, 0))
}

func TestNewMemoryStoreDropsDuplicateIDs(t *testing.T) {
	store := NewMemoryStore([]User{
		{ID: "u1", Name: "Ann", Zodiac: "Leo"},
		{ID: "u1", Name: "Impostor", Zodiac: "Aries"},
		{ID: "u2", Name: "Bo", Zodiac: "Pisces"},
	})

	require.Equal(t, 2, store.Len())
	got, ok := store.FindByID("u1")
	require.True(t, ok)
	require.Equal(t, "Ann", got.Name)
}

func TestAddAppendsFreshUser(t *testing.T) {
	store := NewMemoryStore(Seed(DefaultSeed, 10))
	before := store.List()

	created, err := store.Add("Bo", "Pisces")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	after := store.List()
	require.Len(t, after, len(before)+1)
	require.Equal(t, created, after[len(after)-1])
	for _, u := range before {
		require.NotEqual(t, u.ID, created.ID)
	}
}

func TestAddTwiceSameArgumentsYieldsDistinctIDs(t *testing.T) {
	store := NewMemoryStore(nil)

	a, err := store.Add("Bo", "Pisces")
	require.NoError(t, err)
	b, err := store.Add("Bo", "Pisces")
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, []User{a, b}, store.List())
}

func TestAddSkipsTakenIDs(t *testing.T) {
	ids := []string{"u1", "u1", "", "u2"}
	next := 0
	gen := func() string {
		id := ids[next]
		next++
		return id
	}
	store := NewMemoryStore([]User{{ID: "u1", Name: "Ann", Zodiac: "Leo"}}, WithIDGenerator(gen))

	created, err := store.Add("Bo", "Pisces")
	require.NoError(t, err)
	require.Equal(t, "u2", created.ID)
}

func TestAddGivesUpWhenGeneratorIsStuck(t *testing.T) {
	store := NewMemoryStore([]User{{ID: "u1"}}, WithIDGenerator(func() string { return "u1" }))

	_, err := store.Add("Bo", "Pisces")
	require.Error(t, err)
	require.Equal(t, 1, store.Len())
}

func TestUpdateReplacesOnlyTarget(t *testing.T) {
	store := NewMemoryStore([]User{
		{ID: "u1", Name: "Ann", Zodiac: "Leo"},
		{ID: "u2", Name: "Bo", Zodiac: "Pisces"},
	})

	updated, err := store.Update("u1", Patch{Name: strPtr("Alice"), Zodiac: strPtr("Leo")})
	require.NoError(t, err)
	require.Equal(t, User{ID: "u1", Name: "Alice", Zodiac: "Leo"}, updated)

	other, _ := store.FindByID("u2")
	require.Equal(t, User{ID: "u2", Name: "Bo", Zodiac: "Pisces"}, other)
}

func TestUpdatePartialPatchKeepsOtherFields(t *testing.T) {
	store := NewMemoryStore([]User{{ID: "u1", Name: "Ann", Zodiac: "Leo"}})

	_, err := store.Update("u1", Patch{Zodiac: strPtr("Virgo")})
	require.NoError(t, err)
	require.Equal(t, []User{{ID: "u1", Name: "Ann", Zodiac: "Virgo"}}, store.List())
}

func TestUpdateUnknownIDLeavesStoreUnchanged(t *testing.T) {
	seed := []User{{ID: "u1", Name: "Ann", Zodiac: "Leo"}}
	store := NewMemoryStore(seed)

	_, err := store.Update("1", Patch{Name: strPtr("Alice")})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, seed, store.List())
}

func TestListReturnsCopy(t *testing.T) {
	store := NewMemoryStore([]User{{ID: "u1", Name: "Ann", Zodiac: "Leo"}})

	list := store.List()
	list[0].Name = "mutated"

	got, _ := store.FindByID("u1")
	require.Equal(t, "Ann", got.Name)
}
