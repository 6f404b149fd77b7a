package user

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/user-table/backend/internal/metrics"
	model "github.com/zhouzirui/user-table/backend/internal/model/user"
)

// MaxFieldLength is the longest name or zodiac accepted, in runes.
const MaxFieldLength = 200

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = model.ErrNotFound
)

// AddInput carries the addUser arguments.
type AddInput struct {
	Name   string
	Zodiac string
}

// EditInput carries the editUser arguments. Nil fields are left untouched.
type EditInput struct {
	ID     string
	Name   *string
	Zodiac *string
}

// Config tunes the service.
type Config struct {
	EventBuffer int
}

// Service validates and applies user operations against a store and
// publishes the resulting changes.
type Service struct {
	store   model.Store
	events  *broker
	logger  *zap.Logger
	metrics *metrics.Metrics

	// writeMu 保证事件发布顺序与 store 的写入顺序一致。
	writeMu sync.Mutex
}

// NewService wires a service around store. logger and m may be nil.
func NewService(store model.Store, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("users")
	m.SetUsers(store.Len())
	return &Service{
		store:   store,
		events:  newBroker(cfg.EventBuffer, logger, m),
		logger:  logger,
		metrics: m,
	}
}

// List returns every user in store order.
func (s *Service) List(_ context.Context) []model.User {
	users := s.store.List()
	s.metrics.ObserveOperation("users", metrics.OutcomeOK)
	return users
}

// Get returns a single user.
func (s *Service) Get(_ context.Context, id string) (model.User, error) {
	u, ok := s.store.FindByID(id)
	if !ok {
		s.metrics.ObserveOperation("user", metrics.OutcomeNotFound)
		return model.User{}, errors.Wrapf(ErrNotFound, "id %q", id)
	}
	s.metrics.ObserveOperation("user", metrics.OutcomeOK)
	return u, nil
}

// Add creates a user under a fresh id.
func (s *Service) Add(_ context.Context, in AddInput) (model.User, error) {
	if strings.TrimSpace(in.Name) == "" {
		return s.fail("addUser", errors.Wrap(ErrInvalidInput, "name is required"))
	}
	if err := validateField("name", in.Name); err != nil {
		return s.fail("addUser", err)
	}
	if err := validateField("zodiac", in.Zodiac); err != nil {
		return s.fail("addUser", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	created, err := s.store.Add(in.Name, in.Zodiac)
	if err != nil {
		return s.fail("addUser", errors.Wrap(err, "add user"))
	}

	s.metrics.ObserveOperation("addUser", metrics.OutcomeOK)
	s.metrics.SetUsers(s.store.Len())
	s.logger.Debug("user added", zap.String("user_id", created.ID))
	s.events.publish(Event{Kind: EventAdded, User: created})
	return created, nil
}

// Edit replaces the given fields of an existing user.
func (s *Service) Edit(_ context.Context, in EditInput) (model.User, error) {
	if in.ID == "" {
		return s.fail("editUser", errors.Wrap(ErrInvalidInput, "id is required"))
	}
	if in.Name != nil {
		if err := validateField("name", *in.Name); err != nil {
			return s.fail("editUser", err)
		}
	}
	if in.Zodiac != nil {
		if err := validateField("zodiac", *in.Zodiac); err != nil {
			return s.fail("editUser", err)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	updated, err := s.store.Update(in.ID, model.Patch{Name: in.Name, Zodiac: in.Zodiac})
	if err != nil {
		return s.fail("editUser", err)
	}

	s.metrics.ObserveOperation("editUser", metrics.OutcomeOK)
	s.logger.Debug("user edited", zap.String("user_id", updated.ID))
	s.events.publish(Event{Kind: EventEdited, User: updated})
	return updated, nil
}

// Subscribe streams change events until ctx is done, then closes the channel.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	return s.events.subscribe(ctx)
}

// Subscribers reports how many event subscriptions are open.
func (s *Service) Subscribers() int {
	return s.events.size()
}

func (s *Service) fail(op string, err error) (model.User, error) {
	outcome := metrics.OutcomeError
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case errors.Is(err, ErrInvalidInput):
		outcome = metrics.OutcomeInvalidInput
	default:
		s.logger.Error("user operation failed", zap.String("operation", op), zap.Error(err))
	}
	s.metrics.ObserveOperation(op, outcome)
	return model.User{}, err
}

func validateField(field, value string) error {
	if !utf8.ValidString(value) {
		return errors.Wrapf(ErrInvalidInput, "%s is not valid UTF-8", field)
	}
	if n := utf8.RuneCountInString(value); n > MaxFieldLength {
		return errors.Wrapf(ErrInvalidInput, "%s is %d characters, limit is %d", field, n, MaxFieldLength)
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return errors.Wrapf(ErrInvalidInput, "%s contains control characters", field)
		}
	}
	return nil
}
