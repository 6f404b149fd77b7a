// Package demo is a headless rendition of the user table: a list of rows,
// an inline row editor and an add-user form. Instead of drawing, it counts
// renders, which makes the update granularity of each rendering mode
// observable.
package demo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/user-table/backend/internal/cache"
	"github.com/zhouzirui/user-table/backend/internal/client"
	model "github.com/zhouzirui/user-table/backend/internal/model/user"
)

// Mode selects how the table reacts to cache changes.
type Mode string

const (
	// ModeSlow re-renders every row whenever the list result changes.
	ModeSlow Mode = "slow"
	// ModeMemo re-renders only rows whose values changed.
	ModeMemo Mode = "memo"
	// ModeNonReactive keeps row fields out of the list watch; every row
	// watches its own fragment.
	ModeNonReactive Mode = "nonreactive"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeSlow, ModeMemo, ModeNonReactive}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", errors.Errorf("unknown mode %q (want slow, memo or nonreactive)", s)
}

// Editable row fields.
const (
	FieldName   = "name"
	FieldZodiac = "zodiac"
)

// Row is what one table row displays.
type Row struct {
	ID     string
	Name   string
	Zodiac string
}

// Stats counts renders since the table was mounted or the stats were reset.
type Stats struct {
	ListRenders int
	RowRenders  map[string]int
}

// TotalRowRenders sums row renders over every row.
func (s Stats) TotalRowRenders() int {
	total := 0
	for _, n := range s.RowRenders {
		total += n
	}
	return total
}

// Config configures a Table.
type Config struct {
	Mode Mode
	// Debounce delays edits per row field; zero sends one edit per keystroke.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Table renders the user list through a client.
type Table struct {
	client    *client.Client
	mode      Mode
	debounce  time.Duration
	debouncer *client.Debouncer
	logger    *zap.Logger

	mu         sync.Mutex
	list       *cache.Watch
	order      []string
	rows       map[string]Row
	rowWatches map[string]*cache.Watch
	stats      Stats
	editErr    error
}

func NewTable(c *client.Client, cfg Config) (*Table, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSlow
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := c.RegisterFragments(Fragments); err != nil {
		return nil, errors.Wrap(err, "register fragments")
	}
	return &Table{
		client:     c,
		mode:       cfg.Mode,
		debounce:   cfg.Debounce,
		debouncer:  client.NewDebouncer(cfg.Debounce),
		logger:     logger.Named("table").With(zap.String("mode", string(cfg.Mode))),
		rows:       make(map[string]Row),
		rowWatches: make(map[string]*cache.Watch),
		stats:      Stats{RowRenders: make(map[string]int)},
	}, nil
}

// Mode returns the rendering mode.
func (t *Table) Mode() Mode { return t.mode }

// Mount fetches the list and renders it once.
func (t *Table) Mount(ctx context.Context) error {
	query, name := AllUsersQuery, "AllUsers"
	if t.mode == ModeNonReactive {
		query, name = AllUsersNonReactiveQuery, "AllUsersNonReactive"
	}
	w, err := t.client.WatchQuery(ctx, query, nil, client.QueryOptions{OperationName: name}, t.renderList)
	if err != nil {
		return errors.Wrap(err, "watch users")
	}
	t.mu.Lock()
	t.list = w
	t.mu.Unlock()
	t.renderList(w.Current())
	return nil
}

// Unmount stops every watch and drops pending edits.
func (t *Table) Unmount() {
	t.debouncer.Stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.list != nil {
		t.list.Stop()
		t.list = nil
	}
	for id, w := range t.rowWatches {
		w.Stop()
		delete(t.rowWatches, id)
	}
}

// renderList is the list component. It receives every list result.
func (t *Table) renderList(res cache.Result) {
	if res.Err != nil && !errors.Is(res.Err, cache.ErrMissingField) {
		t.logger.Warn("list result", zap.Error(res.Err))
		return
	}
	items, _ := res.Data["users"].([]any)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.ListRenders++

	order := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	var mounts []string
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := rowFrom(obj)
		order = append(order, r.ID)
		seen[r.ID] = struct{}{}

		switch t.mode {
		case ModeSlow:
			t.renderRowLocked(r)
		case ModeMemo:
			if prev, ok := t.rows[r.ID]; !ok || prev != r {
				t.renderRowLocked(r)
			}
		case ModeNonReactive:
			if _, ok := t.rowWatches[r.ID]; !ok {
				mounts = append(mounts, r.ID)
			}
		}
	}
	for id := range t.rows {
		if _, ok := seen[id]; !ok {
			delete(t.rows, id)
			if w, ok := t.rowWatches[id]; ok {
				w.Stop()
				delete(t.rowWatches, id)
			}
		}
	}
	t.order = order
	for _, id := range mounts {
		t.mountRowLocked(id)
	}
	t.logger.Debug("list rendered", zap.Int("rows", len(order)))
}

// mountRowLocked gives a row its own fragment watch and renders it once.
func (t *Table) mountRowLocked(id string) {
	w, err := t.client.WatchFragment(Fragments, "UserFragment", cache.Identify(model.Typename, id), func(res cache.Result) {
		t.renderFragment(id, res)
	})
	if err != nil {
		t.logger.Warn("watch row", zap.String("user_id", id), zap.Error(err))
		return
	}
	t.rowWatches[id] = w
	t.renderFragmentLocked(id, w.Current())
}

func (t *Table) renderFragment(id string, res cache.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, mounted := t.rowWatches[id]; !mounted {
		return
	}
	t.renderFragmentLocked(id, res)
}

func (t *Table) renderFragmentLocked(id string, res cache.Result) {
	r := rowFrom(res.Data)
	r.ID = id
	t.renderRowLocked(r)
}

func (t *Table) renderRowLocked(r Row) {
	t.rows[r.ID] = r
	t.stats.RowRenders[r.ID]++
}

func rowFrom(obj map[string]any) Row {
	var r Row
	r.ID, _ = obj["id"].(string)
	r.Name, _ = obj["name"].(string)
	r.Zodiac, _ = obj["zodiac"].(string)
	return r
}

// Rows returns the rows as last rendered, in list order.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, 0, len(t.order))
	for _, id := range t.order {
		if r, ok := t.rows[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Stats returns a copy of the render counters.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Stats{ListRenders: t.stats.ListRenders, RowRenders: make(map[string]int, len(t.stats.RowRenders))}
	for id, n := range t.stats.RowRenders {
		out.RowRenders[id] = n
	}
	return out
}

// ResetStats zeroes the render counters.
func (t *Table) ResetStats() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = Stats{RowRenders: make(map[string]int)}
}

// Type simulates typing text into a row field one rune at a time. Every
// keystroke sends the field's current value as an edit, through the
// debouncer when one is configured.
func (t *Table) Type(ctx context.Context, id, field, text string) error {
	if field != FieldName && field != FieldZodiac {
		return errors.Errorf("unknown field %q", field)
	}
	runes := []rune(text)
	for i := 1; i <= len(runes); i++ {
		value := string(runes[:i])
		t.debouncer.Do(id+"."+field, func() {
			_ = t.edit(ctx, id, field, value)
		})
		if t.debounce <= 0 {
			if err := t.takeEditErr(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush sends debounced edits now and returns the first edit error since
// the last Flush.
func (t *Table) Flush() error {
	t.debouncer.Flush()
	return t.takeEditErr()
}

func (t *Table) takeEditErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.editErr
	t.editErr = nil
	return err
}

func (t *Table) edit(ctx context.Context, id, field, value string) error {
	vars := map[string]any{"id": id, field: value}
	_, err := t.client.Mutate(ctx, EditUserMutation, vars, client.MutateOptions{OperationName: "EditUser"})
	if err != nil {
		t.logger.Warn("edit user", zap.String("user_id", id), zap.String("field", field), zap.Error(err))
		t.mu.Lock()
		if t.editErr == nil {
			t.editErr = err
		}
		t.mu.Unlock()
	}
	return err
}

// AddUser is the add-user form. The new user is appended to the cached
// list by the mutation's update hook.
func (t *Table) AddUser(ctx context.Context, name, zodiac string) (Row, error) {
	doc, err := t.client.Document(AllUsersQuery)
	if err != nil {
		return Row{}, err
	}
	list := cache.Operation{Document: doc.AST, Name: "AllUsers"}
	update := func(c *cache.Cache, data map[string]any) error {
		created, ok := data["addUser"].(map[string]any)
		if !ok {
			return errors.New("addUser returned no user")
		}
		current, err := c.ReadQuery(list)
		if errors.Is(err, cache.ErrMissingField) {
			// List not loaded yet; the next fetch will include the new user.
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read cached users")
		}
		users, _ := current["users"].([]any)
		users = append(users, created)
		return c.WriteQuery(list, map[string]any{"users": users})
	}

	data, err := t.client.Mutate(ctx, AddUserMutation, map[string]any{"name": name, "zodiac": zodiac},
		client.MutateOptions{OperationName: "AddUser", Update: update})
	if err != nil {
		return Row{}, err
	}
	created, _ := data["addUser"].(map[string]any)
	return rowFrom(created), nil
}

// RowIDs returns the rendered row ids sorted, for stable output.
func (s Stats) RowIDs() []string {
	ids := make([]string, 0, len(s.RowRenders))
	for id := range s.RowRenders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
