package entities

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/config"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/notify"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bg = context.Background()

func newEnv(t *testing.T, engine config.Engine) store.Env {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ApplicationEngine, cfg.WorkspaceEngine, cfg.CollectionEngine = engine, engine, engine

	reg, err := scope.NewRegistry(bg, scope.NewOpener(cfg))
	require.NoError(t, err)
	hub := notify.NewHub()
	t.Cleanup(func() {
		hub.Close()
		_ = reg.CloseAll(bg)
	})
	return store.Env{Registry: reg, Hub: hub}
}

func ptr[T any](v T) *T { return &v }

func TestRootsAreDisjoint(t *testing.T) {
	roots := map[string]string{}
	for _, info := range segkey.Roots() {
		_, dup := roots[info.Root.Name()]
		assert.False(t, dup, "root %s registered twice", info.Root)
		roots[info.Root.Name()] = info.Owner
	}
	for _, r := range []segkey.SegKey{WorkspaceRoot, ItemRoot, EnvironmentRoot, VariableRoot, EntryRoot} {
		assert.Contains(t, roots, r.Name())
	}

	// no root's scan prefix matches a key of another root
	all := []segkey.SegKey{WorkspaceRoot, ItemRoot, EnvironmentRoot, VariableRoot, EntryRoot}
	for _, a := range all {
		for _, b := range all {
			if a == b {
				continue
			}
			assert.False(t, bytes.HasPrefix(b.Join("x").Bytes(), a.Buf().Prefix()), "%s overlaps %s", a, b)
		}
	}

	assert.Panics(t, func() { segkey.Register("entry", "someone else") })
}

func TestTableNamesAreStable(t *testing.T) {
	assert.Equal(t, "workspaces", WorkspaceTable.Name())
	assert.Equal(t, "items", ItemTable.Name())
	assert.Equal(t, "environments", EnvironmentTable.Name())
	assert.Equal(t, "variables", VariableTable.Name())
	assert.Equal(t, "resources", ResourceTable.Name())
}

func TestVariableScenario(t *testing.T) {
	for _, engine := range config.Engines {
		t.Run(string(engine), func(t *testing.T) {
			env := newEnv(t, engine)
			c1 := NewVariableStore(env, "c1")
			c2 := NewVariableStore(env, "c2")

			want := VariableEntity{Disabled: false, Order: ptr(int64(1)), LocalValue: "a"}
			require.NoError(t, c1.Put(bg, "v1", want))

			_, found, err := c2.Get(bg, "v1")
			require.NoError(t, err)
			assert.False(t, found)

			got, found, err := c1.Get(bg, "v1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, want, got)

			prev, found, err := c1.Remove(bg, "v1")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, want, prev)

			_, found, err = c1.Get(bg, "v1")
			require.NoError(t, err)
			assert.False(t, found)
			_, found, err = c2.Get(bg, "v1")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestVariableLocalValueTypes(t *testing.T) {
	env := newEnv(t, config.EngineMaple)
	s := NewVariableStore(env, "c1")

	require.NoError(t, s.BatchPut(bg, []store.Item[VariableID, VariableEntity]{
		{ID: "num", Value: VariableEntity{LocalValue: 42}},
		{ID: "neg", Value: VariableEntity{LocalValue: -7}},
		{ID: "map", Value: VariableEntity{LocalValue: map[string]any{"k": "v"}}},
		{ID: "none", Value: VariableEntity{Disabled: true}},
	}))

	got, err := s.BatchGet(bg, []VariableID{"num", "neg", "map", "none"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got["num"].LocalValue)
	assert.Equal(t, int64(-7), got["neg"].LocalValue)
	assert.Equal(t, map[string]any{"k": "v"}, got["map"].LocalValue)
	assert.Nil(t, got["none"].LocalValue)
	assert.Nil(t, got["none"].Order)
	assert.True(t, got["none"].Disabled)
}

func TestWorkspaceStore(t *testing.T) {
	env := newEnv(t, config.EngineBolt)
	s := NewWorkspaceStore(env)

	opened := time.Date(2025, 3, 14, 15, 9, 26, 535897932, time.UTC)
	require.NoError(t, s.Put(bg, "w1", WorkspaceInfo{Name: "Main", LastOpenedAt: opened}))
	require.NoError(t, s.Put(bg, "w2", WorkspaceInfo{Name: "Side"}))

	got, found, err := s.Get(bg, "w1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Main", got.Name)
	assert.True(t, opened.Equal(got.LastOpenedAt), "timestamp lost precision: %v", got.LastOpenedAt)

	list, err := s.List(bg)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, WorkspaceID("w1"), list[0].ID)
	assert.Equal(t, scope.Application(), s.Scope())
}

func TestEnvironmentStoreIsPerWorkspace(t *testing.T) {
	env := newEnv(t, config.EngineSQLite)
	w1 := NewEnvironmentStore(env, "w1")
	w2 := NewEnvironmentStore(env, "w2")

	require.NoError(t, w1.Put(bg, "dev", EnvironmentEntity{Name: "Development", Color: "#00ff00", Order: ptr(int64(2))}))
	_, err := w1.Update(bg, "dev", func(cur EnvironmentEntity, found bool) (EnvironmentEntity, error) {
		assert.True(t, found)
		cur.Expanded = true
		return cur, nil
	})
	require.NoError(t, err)

	got, found, err := w1.Get(bg, "dev")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, EnvironmentEntity{Name: "Development", Color: "#00ff00", Order: ptr(int64(2)), Expanded: true}, got)

	_, found, err = w2.Get(bg, "dev")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestItemStoreJSON(t *testing.T) {
	env := newEnv(t, config.EngineMaple)
	s := NewItemStore(env)

	type theme struct {
		Name string `json:"name"`
		Dark bool   `json:"dark"`
	}
	require.NoError(t, PutJSON(bg, s, "theme", theme{Name: "moss", Dark: true}))

	got, found, err := GetJSON[theme](bg, s, "theme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, theme{Name: "moss", Dark: true}, got)

	require.NoError(t, s.Put(bg, "broken", []byte("{not json")))
	_, _, err = GetJSON[theme](bg, s, "broken")
	assert.ErrorIs(t, err, db.ErrCorruption)

	_, found, err = GetJSON[theme](bg, s, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEntryStoreFields(t *testing.T) {
	for _, engine := range config.Engines {
		t.Run(string(engine), func(t *testing.T) {
			env := newEnv(t, engine)
			s := NewEntryStore(env, "c1")

			require.NoError(t, s.SetOrder(bg, "1", 5))
			require.NoError(t, s.SetExpanded(bg, "1", true))
			require.NoError(t, s.SetOrder(bg, "10", 7))
			require.NoError(t, s.SetOrder(bg, "2", 1))

			state, found, err := s.Get(bg, "1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, EntryState{Order: ptr(int64(5)), Expanded: ptr(true)}, state)

			// entry/1 must not pick up fields of entry/10
			state, _, err = s.Get(bg, "10")
			require.NoError(t, err)
			assert.Nil(t, state.Expanded)
			assert.Equal(t, int64(7), *state.Order)

			list, err := s.List(bg)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []EntryID{"1", "10", "2"}, []EntryID{list[0].ID, list[1].ID, list[2].ID})

			n, err := s.Remove(bg, "1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			_, found, err = s.Get(bg, "1")
			require.NoError(t, err)
			assert.False(t, found)

			state, found, err = s.Get(bg, "10")
			require.NoError(t, err)
			assert.True(t, found, "removing entry/1 touched entry/10")
		})
	}
}

func TestEntryStoreEvents(t *testing.T) {
	env := newEnv(t, config.EngineMaple)
	s := NewEntryStore(env, "c1")
	sub := env.Hub.Subscribe(scope.Collection("c1"))
	defer sub.Close()

	require.NoError(t, s.SetOrder(bg, "e", 1))
	require.NoError(t, s.SetExpanded(bg, "e", false))
	_, err := s.Remove(bg, "e")
	require.NoError(t, err)
	_, err = s.Remove(bg, "e") // nothing left
	require.NoError(t, err)

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case ev := <-sub.Events():
			mark := "put"
			if ev.Removed {
				mark = "del"
			}
			got = append(got, mark+" "+ev.Key.String())
		case <-timeout:
			t.Fatalf("missing events, got %v", got)
		}
	}
	assert.Equal(t, []string{
		"put entry/e/order",
		"put entry/e/expanded",
		"del entry/e/expanded",
		"del entry/e/order",
	}, got)

	select {
	case ev := <-sub.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestEntryStoreCorruptField(t *testing.T) {
	env := newEnv(t, config.EngineMaple)
	s := NewEntryStore(env, "c1")
	require.NoError(t, s.SetOrder(bg, "e", 1))

	b, err := env.Registry.Resolve(bg, scope.Collection("c1"))
	require.NoError(t, err)
	require.NoError(t, db.Update(bg, b, func(tx db.Tx) error {
		// a text string where an integer is expected
		return tx.Put(ResourceTable.Name(), EntryRoot.Join("e").Join(FieldExpanded).Bytes(), []byte{0x61, 'x'})
	}))

	_, _, err = s.Get(bg, "e")
	assert.ErrorIs(t, err, db.ErrCorruption)
	_, err = s.List(bg)
	assert.ErrorIs(t, err, db.ErrCorruption)
}

func TestEntryStoreUnknownFields(t *testing.T) {
	env := newEnv(t, config.EngineMaple)
	s := NewEntryStore(env, "c1")

	b, err := env.Registry.Resolve(bg, scope.Collection("c1"))
	require.NoError(t, err)
	color := []byte{0x63, 'r', 'e', 'd'}
	require.NoError(t, db.Update(bg, b, func(tx db.Tx) error {
		if err := tx.Put(ResourceTable.Name(), EntryRoot.Join("u").Join("color").Bytes(), color); err != nil {
			return err
		}
		// sorts before order, so v starts with an unknown field
		return tx.Put(ResourceTable.Name(), EntryRoot.Join("v").Join("color").Bytes(), color)
	}))
	require.NoError(t, s.SetOrder(bg, "v", 3))

	state, found, err := s.Get(bg, "u")
	require.NoError(t, err)
	assert.False(t, found, "an entry with only unknown fields must not be found")
	assert.Equal(t, EntryState{}, state)

	state, found, err = s.Get(bg, "v")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, EntryState{Order: ptr(int64(3))}, state)

	list, err := s.List(bg)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, EntryID("v"), list[0].ID)
	assert.Equal(t, EntryState{Order: ptr(int64(3))}, list[0].State)
}
