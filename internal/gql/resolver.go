package gql

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/pkg/errors"

	model "github.com/zhouzirui/user-table/backend/internal/model/user"
	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
)

// Resolver is the root resolver. It holds the user service the schema reads
// and writes through.
type Resolver struct {
	users *usersvc.Service
}

// NewResolver returns a root resolver backed by users.
func NewResolver(users *usersvc.Service) *Resolver {
	return &Resolver{users: users}
}

func (r *Resolver) Users(ctx context.Context) []*UserResolver {
	users := r.users.List(ctx)
	out := make([]*UserResolver, len(users))
	for i := range users {
		out[i] = &UserResolver{u: users[i]}
	}
	return out
}

func (r *Resolver) User(ctx context.Context, args struct{ ID graphql.ID }) (*UserResolver, error) {
	u, err := r.users.Get(ctx, string(args.ID))
	if errors.Is(err, usersvc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err)
	}
	return &UserResolver{u: u}, nil
}

type addUserArgs struct {
	Name   *string
	Zodiac *string
}

func (r *Resolver) AddUser(ctx context.Context, args addUserArgs) (*UserResolver, error) {
	in := usersvc.AddInput{}
	if args.Name != nil {
		in.Name = *args.Name
	}
	if args.Zodiac != nil {
		in.Zodiac = *args.Zodiac
	}
	u, err := r.users.Add(ctx, in)
	if err != nil {
		return nil, wrapError(err)
	}
	return &UserResolver{u: u}, nil
}

type editUserArgs struct {
	ID     *graphql.ID
	Name   *string
	Zodiac *string
}

func (r *Resolver) EditUser(ctx context.Context, args editUserArgs) (*UserResolver, error) {
	in := usersvc.EditInput{Name: args.Name, Zodiac: args.Zodiac}
	if args.ID != nil {
		in.ID = string(*args.ID)
	}
	u, err := r.users.Edit(ctx, in)
	if err != nil {
		return nil, wrapError(err)
	}
	return &UserResolver{u: u}, nil
}

// UserChanged streams add and edit events until the subscription ends.
func (r *Resolver) UserChanged(ctx context.Context) <-chan *UserEventResolver {
	events := r.users.Subscribe(ctx)
	out := make(chan *UserEventResolver)
	go func() {
		defer close(out)
		for evt := range events {
			select {
			case out <- &UserEventResolver{evt: evt}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// UserResolver resolves the User type.
type UserResolver struct {
	u model.User
}

func (r *UserResolver) ID() graphql.ID { return graphql.ID(r.u.ID) }
func (r *UserResolver) Name() string   { return r.u.Name }
func (r *UserResolver) Zodiac() string { return r.u.Zodiac }

// UserEventResolver resolves the UserEvent type.
type UserEventResolver struct {
	evt usersvc.Event
}

func (r *UserEventResolver) Kind() string { return string(r.evt.Kind) }

func (r *UserEventResolver) User() *UserResolver { return &UserResolver{u: r.evt.User} }
