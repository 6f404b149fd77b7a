package user_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/user-table/backend/internal/metrics"
	model "github.com/zhouzirui/user-table/backend/internal/model/user"
	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
)

func strPtr(s string) *string { return &s }

func newService(t *testing.T, seed ...model.User) (*usersvc.Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	svc := usersvc.NewService(model.NewMemoryStore(seed), usersvc.Config{EventBuffer: 4}, nil, m)
	return svc, m
}

func TestServiceEditScenario(t *testing.T) {
	svc, _ := newService(t, model.User{ID: "u1", Name: "Ann", Zodiac: "Leo"})
	ctx := context.Background()

	_, err := svc.Edit(ctx, usersvc.EditInput{ID: "u1", Name: strPtr("Ann"), Zodiac: strPtr("Virgo")})
	require.NoError(t, err)
	require.Equal(t, []model.User{{ID: "u1", Name: "Ann", Zodiac: "Virgo"}}, svc.List(ctx))
}

func TestServiceEditUnknownID(t *testing.T) {
	seed := []model.User{{ID: "u1", Name: "Ann", Zodiac: "Leo"}}
	svc, m := newService(t, seed...)
	ctx := context.Background()

	_, err := svc.Edit(ctx, usersvc.EditInput{ID: "nope", Name: strPtr("Alice")})
	require.True(t, errors.Is(err, usersvc.ErrNotFound))
	require.Equal(t, seed, svc.List(ctx))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("editUser", metrics.OutcomeNotFound)))
}

func TestServiceAddValidation(t *testing.T) {
	svc, m := newService(t)
	ctx := context.Background()

	cases := []usersvc.AddInput{
		{Name: "", Zodiac: "Leo"},
		{Name: "   ", Zodiac: "Leo"},
		{Name: strings.Repeat("a", usersvc.MaxFieldLength+1), Zodiac: "Leo"},
		{Name: "Bo", Zodiac: "Pis\x00ces"},
		{Name: "Bo\xff", Zodiac: "Pisces"},
	}
	for _, in := range cases {
		_, err := svc.Add(ctx, in)
		require.Truef(t, errors.Is(err, usersvc.ErrInvalidInput), "input %+v: %v", in, err)
	}
	require.Empty(t, svc.List(ctx))
	require.Equal(t, float64(len(cases)), testutil.ToFloat64(m.Operations.WithLabelValues("addUser", metrics.OutcomeInvalidInput)))
}

func TestServiceEditAcceptsBlankField(t *testing.T) {
	svc, _ := newService(t, model.User{ID: "u1", Name: "Ann", Zodiac: "Leo"})

	got, err := svc.Edit(context.Background(), usersvc.EditInput{ID: "u1", Name: strPtr("")})
	require.NoError(t, err)
	require.Equal(t, model.User{ID: "u1", Name: "", Zodiac: "Leo"}, got)
}

func TestServiceAddUpdatesGauge(t *testing.T) {
	svc, m := newService(t, model.User{ID: "u1", Name: "Ann", Zodiac: "Leo"})
	require.Equal(t, 1.0, testutil.ToFloat64(m.Users))

	_, err := svc.Add(context.Background(), usersvc.AddInput{Name: "Bo", Zodiac: "Pisces"})
	require.NoError(t, err)
	require.Equal(t, 2.0, testutil.ToFloat64(m.Users))
}

func TestServiceGet(t *testing.T) {
	svc, _ := newService(t, model.User{ID: "u1", Name: "Ann", Zodiac: "Leo"})
	ctx := context.Background()

	got, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Ann", got.Name)

	_, err = svc.Get(ctx, "u2")
	require.True(t, errors.Is(err, usersvc.ErrNotFound))
}

func TestServicePublishesEvents(t *testing.T) {
	svc, _ := newService(t, model.User{ID: "u1", Name: "Ann", Zodiac: "Leo"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := svc.Subscribe(ctx)
	require.Equal(t, 1, svc.Subscribers())

	created, err := svc.Add(ctx, usersvc.AddInput{Name: "Bo", Zodiac: "Pisces"})
	require.NoError(t, err)
	_, err = svc.Edit(ctx, usersvc.EditInput{ID: "u1", Zodiac: strPtr("Virgo")})
	require.NoError(t, err)

	require.Equal(t, usersvc.Event{Kind: usersvc.EventAdded, User: created}, <-events)
	require.Equal(t, usersvc.Event{
		Kind: usersvc.EventEdited,
		User: model.User{ID: "u1", Name: "Ann", Zodiac: "Virgo"},
	}, <-events)

	cancel()
	require.Eventually(t, func() bool { return svc.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-events
	require.False(t, open)
}

func TestServiceDropsEventsForSlowSubscriber(t *testing.T) {
	svc, m := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = svc.Subscribe(ctx)
	for i := 0; i < 6; i++ {
		_, err := svc.Add(ctx, usersvc.AddInput{Name: "Bo", Zodiac: "Pisces"})
		require.NoError(t, err)
	}
	require.Equal(t, 2.0, testutil.ToFloat64(m.DroppedEvents))
}

func TestServiceConcurrentEditsPublishInApplyOrder(t *testing.T) {
	const edits = 32
	store := model.NewMemoryStore([]model.User{{ID: "u1", Name: "Ann", Zodiac: "Leo"}})
	svc := usersvc.NewService(store, usersvc.Config{EventBuffer: edits * 2}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := svc.Subscribe(ctx)

	var wg sync.WaitGroup
	for i := 0; i < edits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Edit(ctx, usersvc.EditInput{ID: "u1", Name: strPtr("Ann " + strconv.Itoa(i))}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	var last usersvc.Event
	for i := 0; i < edits; i++ {
		last = <-events
	}
	final, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, final, last.User)
}
