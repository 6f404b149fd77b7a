package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/user-table/backend/internal/client"
	"github.com/zhouzirui/user-table/backend/internal/gql"
	model "github.com/zhouzirui/user-table/backend/internal/model/user"
	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
)

func seedUsers() []model.User {
	return []model.User{
		{ID: "u1", Name: "Ann", Zodiac: "Leo"},
		{ID: "u2", Name: "Bo", Zodiac: "Pisces"},
		{ID: "u3", Name: "Cy", Zodiac: "Aries"},
	}
}

func newTable(t *testing.T, mode Mode, debounce time.Duration) (*Table, *usersvc.Service) {
	t.Helper()
	svc := usersvc.NewService(model.NewMemoryStore(seedUsers()), usersvc.Config{EventBuffer: 8}, nil, nil)
	schema, err := gql.NewSchema(gql.NewResolver(svc), gql.Options{MaxDepth: 12}, nil)
	require.NoError(t, err)
	c, err := client.New(client.Options{Transport: &client.LocalTransport{Schema: schema}})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	table, err := NewTable(c, Config{Mode: mode, Debounce: debounce})
	require.NoError(t, err)
	t.Cleanup(table.Unmount)
	return table, svc
}

func mountTable(t *testing.T, mode Mode, debounce time.Duration) (*Table, *usersvc.Service) {
	t.Helper()
	table, svc := newTable(t, mode, debounce)
	require.NoError(t, table.Mount(context.Background()))
	return table, svc
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(string(m))
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err := ParseMode("fast")
	require.Error(t, err)
}

func TestMountRendersEveryRowOnce(t *testing.T) {
	for _, mode := range Modes {
		t.Run(string(mode), func(t *testing.T) {
			table, _ := mountTable(t, mode, 0)
			stats := table.Stats()
			require.Equal(t, 1, stats.ListRenders)
			require.Equal(t, map[string]int{"u1": 1, "u2": 1, "u3": 1}, stats.RowRenders)
			require.Equal(t, []Row{
				{ID: "u1", Name: "Ann", Zodiac: "Leo"},
				{ID: "u2", Name: "Bo", Zodiac: "Pisces"},
				{ID: "u3", Name: "Cy", Zodiac: "Aries"},
			}, table.Rows())
		})
	}
}

func TestTypingRenderGranularity(t *testing.T) {
	cases := []struct {
		mode        Mode
		listRenders int
		rowRenders  map[string]int
	}{
		// Every keystroke re-renders the list and every row.
		{ModeSlow, 5, map[string]int{"u1": 5, "u2": 5, "u3": 5}},
		// The list re-renders, but only the edited row does.
		{ModeMemo, 5, map[string]int{"u1": 5}},
		// Only the edited row's fragment watch fires.
		{ModeNonReactive, 0, map[string]int{"u1": 5}},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			table, svc := mountTable(t, tc.mode, 0)
			table.ResetStats()

			require.NoError(t, table.Type(context.Background(), "u1", FieldZodiac, "Virgo"))

			stats := table.Stats()
			require.Equal(t, tc.listRenders, stats.ListRenders)
			require.Equal(t, tc.rowRenders, stats.RowRenders)
			require.Equal(t, Row{ID: "u1", Name: "Ann", Zodiac: "Virgo"}, table.Rows()[0])

			u, err := svc.Get(context.Background(), "u1")
			require.NoError(t, err)
			require.Equal(t, "Virgo", u.Zodiac)
		})
	}
}

func TestDebouncedTypingSendsLastValue(t *testing.T) {
	table, svc := mountTable(t, ModeMemo, time.Hour)
	table.ResetStats()

	require.NoError(t, table.Type(context.Background(), "u2", FieldName, "Bobby"))
	require.Zero(t, table.Stats().TotalRowRenders())

	require.NoError(t, table.Flush())
	stats := table.Stats()
	require.Equal(t, 1, stats.ListRenders)
	require.Equal(t, map[string]int{"u2": 1}, stats.RowRenders)

	u, err := svc.Get(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, "Bobby", u.Name)
}

func TestTypeReportsEditErrors(t *testing.T) {
	table, _ := mountTable(t, ModeMemo, 0)

	err := table.Type(context.Background(), "missing", FieldName, "X")
	require.ErrorIs(t, err, client.ErrNotFound)

	require.Error(t, table.Type(context.Background(), "u1", "age", "3"))
}

func TestAddUserAppendsRow(t *testing.T) {
	cases := []struct {
		mode       Mode
		rowRenders int
	}{
		{ModeSlow, 4},
		{ModeMemo, 1},
		{ModeNonReactive, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			table, svc := mountTable(t, tc.mode, 0)
			table.ResetStats()

			row, err := table.AddUser(context.Background(), "Dee", "Libra")
			require.NoError(t, err)
			require.NotEmpty(t, row.ID)

			stats := table.Stats()
			require.Equal(t, 1, stats.ListRenders)
			require.Equal(t, tc.rowRenders, stats.TotalRowRenders())
			require.Equal(t, 1, stats.RowRenders[row.ID])

			rows := table.Rows()
			require.Len(t, rows, 4)
			require.Equal(t, Row{ID: row.ID, Name: "Dee", Zodiac: "Libra"}, rows[3])
			require.Len(t, svc.List(context.Background()), 4)
		})
	}
}

func TestAddUserBeforeMount(t *testing.T) {
	table, svc := newTable(t, ModeMemo, 0)
	ctx := context.Background()

	row, err := table.AddUser(ctx, "Dee", "Libra")
	require.NoError(t, err)
	require.Equal(t, "Dee", row.Name)
	require.Len(t, svc.List(ctx), 4)

	require.NoError(t, table.Mount(ctx))
	rows := table.Rows()
	require.Len(t, rows, 4)
	require.Equal(t, Row{ID: row.ID, Name: "Dee", Zodiac: "Libra"}, rows[3])
}

func TestAddUserRejectsBlankName(t *testing.T) {
	table, _ := mountTable(t, ModeSlow, 0)
	table.ResetStats()

	_, err := table.AddUser(context.Background(), " ", "Leo")
	require.ErrorIs(t, err, client.ErrInvalidInput)
	require.Zero(t, table.Stats().ListRenders)
	require.Len(t, table.Rows(), 3)
}
