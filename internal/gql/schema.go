// Package gql exposes the user store as a GraphQL schema.
package gql

import (
	"context"
	"fmt"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"
)

// SDL is the schema served at /graphql. editUser keeps its arguments
// nullable so documents declaring `$id: ID` validate against it.
const SDL = `
schema {
	query: Query
	mutation: Mutation
	subscription: Subscription
}

type Query {
	users: [User!]!
	user(id: ID!): User
}

type Mutation {
	addUser(name: String, zodiac: String): User!
	editUser(id: ID, name: String, zodiac: String): User!
}

type Subscription {
	userChanged: UserEvent!
}

enum UserEventKind {
	ADDED
	EDITED
}

type UserEvent {
	kind: UserEventKind!
	user: User!
}

type User {
	id: ID!
	name: String!
	zodiac: String!
}
`

// Options tunes schema execution.
type Options struct {
	MaxDepth       int
	MaxParallelism int
}

// NewSchema parses SDL against resolver.
func NewSchema(resolver *Resolver, opts Options, logger *zap.Logger) (*graphql.Schema, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schemaOpts := []graphql.SchemaOpt{
		graphql.Logger(panicLogger{logger: logger.Named("graphql")}),
	}
	if opts.MaxDepth > 0 {
		schemaOpts = append(schemaOpts, graphql.MaxDepth(opts.MaxDepth))
	}
	if opts.MaxParallelism > 0 {
		schemaOpts = append(schemaOpts, graphql.MaxParallelism(opts.MaxParallelism))
	}
	return graphql.ParseSchema(SDL, resolver, schemaOpts...)
}

// panicLogger reports resolver panics through zap.
type panicLogger struct {
	logger *zap.Logger
}

func (l panicLogger) LogPanic(_ context.Context, value interface{}) {
	l.logger.Error("graphql resolver panic", zap.String("panic", fmt.Sprint(value)), zap.Stack("stack"))
}
