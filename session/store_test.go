package session

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/burrow/chat"
	"github.com/hupe1980/burrow/config"
	"github.com/hupe1980/burrow/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *config.Config) {
	t.Helper()

	cfg, err := config.Load("", nil, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Set("database.sessions.path", filepath.Join(t.TempDir(), "sessions")))
	require.NoError(t, cfg.Set("database.sessions.size", 1<<22))

	st, err := NewStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func newSavedSession(t *testing.T, st *Store, cfg *config.Config, alias string, texts ...string) *chat.Session {
	t.Helper()

	builder := testutil.NewSessionBuilder(cfg).Alias(alias)
	for _, text := range texts {
		builder.User(text)
	}
	sess := builder.Build()
	t.Cleanup(sess.Close)
	require.NoError(t, st.Add(sess))
	return sess
}

func TestStoreAddAssignsID(t *testing.T) {
	st, cfg := newTestStore(t)

	sess := newSavedSession(t, st, cfg, "", "hello")
	assert.Equal(t, 1, sess.ID)

	rec, err := st.Get("1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ID)
	require.Len(t, rec.History, 1)
	assert.Equal(t, "hello", rec.History[0].Content.AsText())
}

func TestStoreIDReuse(t *testing.T) {
	st, cfg := newTestStore(t)

	for i := 1; i <= 3; i++ {
		newSavedSession(t, st, cfg, "", "msg "+strconv.Itoa(i))
	}

	require.NoError(t, st.Delete("2"))
	next, err := st.NextID()
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	require.NoError(t, st.Delete("1"))
	next, err = st.NextID()
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestStoreResolveID(t *testing.T) {
	st, cfg := newTestStore(t)
	sess := newSavedSession(t, st, cfg, "work", "hello")

	id, err := st.ResolveID("work")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, id)

	id, err = st.ResolveID(strconv.Itoa(sess.ID))
	require.NoError(t, err)
	assert.Equal(t, sess.ID, id)

	_, err = st.ResolveID("nope")
	require.ErrorIs(t, err, ErrUnknownSession)

	id, err = st.LookupID("nope")
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestStoreSetAlias(t *testing.T) {
	st, cfg := newTestStore(t)
	newSavedSession(t, st, cfg, "", "a")

	require.NoError(t, st.SetAlias("1", "notes"))
	id, err := st.ResolveID("notes")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	// renaming drops the old index entry
	require.NoError(t, st.SetAlias("notes", "journal"))
	_, err = st.ResolveID("notes")
	require.ErrorIs(t, err, ErrUnknownSession)

	// clearing
	require.NoError(t, st.SetAlias("journal", ""))
	_, err = st.ResolveID("journal")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestStoreNumericAliasRejected(t *testing.T) {
	st, cfg := newTestStore(t)
	newSavedSession(t, st, cfg, "", "a")

	err := st.SetAlias("1", "5")
	require.ErrorIs(t, err, ErrNumericAlias)

	rec, err := st.Get("1")
	require.NoError(t, err)
	assert.Empty(t, rec.Alias)
}

func TestStoreAliasConflict(t *testing.T) {
	st, cfg := newTestStore(t)
	newSavedSession(t, st, cfg, "first", "a")
	newSavedSession(t, st, cfg, "second", "b")

	err := st.SetAlias("second", "first")
	require.ErrorIs(t, err, ErrAliasTaken)

	// both sessions keep their aliases
	rec1, err := st.Get("first")
	require.NoError(t, err)
	assert.Equal(t, 1, rec1.ID)
	rec2, err := st.Get("second")
	require.NoError(t, err)
	assert.Equal(t, 2, rec2.ID)
}

func TestStoreIsAliasAvailable(t *testing.T) {
	st, cfg := newTestStore(t)
	newSavedSession(t, st, cfg, "taken", "a")

	tests := []struct {
		alias string
		want  bool
	}{
		{"taken", false},
		{"7", false},
		{"", false},
		{"free", true},
	}
	for _, tt := range tests {
		got, err := st.IsAliasAvailable(tt.alias)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "alias %q", tt.alias)
	}
}

func TestStoreRefreshMaintainsAliasIndex(t *testing.T) {
	st, cfg := newTestStore(t)
	sess := newSavedSession(t, st, cfg, "draft", "a")

	sess.Alias = "final"
	require.NoError(t, st.Refresh(sess))

	_, err := st.ResolveID("draft")
	require.ErrorIs(t, err, ErrUnknownSession)

	id, err := st.ResolveID("final")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, id)
}

func TestStoreSetTitle(t *testing.T) {
	st, cfg := newTestStore(t)
	newSavedSession(t, st, cfg, "work", "a")

	require.NoError(t, st.SetTitle("work", "quarterly report"))
	rec, err := st.Get("work")
	require.NoError(t, err)
	assert.Equal(t, "quarterly report", rec.Title)
}

func TestStoreSwitchToRoundTrip(t *testing.T) {
	st, cfg := newTestStore(t)

	sess := testutil.NewSessionBuilder(cfg).
		Alias("research").
		Title("go generics").
		LastExchange("explain", "sure").
		User("explain").
		Assistant("sure").
		Build()
	t.Cleanup(sess.Close)
	require.NoError(t, cfg.Set("model.temperature", 0.5))
	require.NoError(t, st.Add(sess))

	// reset runtime state, then switch back into the saved session
	require.NoError(t, cfg.ChangeMode(config.DefaultMode))
	fresh := chat.NewSession(cfg, cfg.Bus(), nil)
	t.Cleanup(fresh.Close)
	require.NoError(t, st.SwitchTo("research", fresh))

	assert.Equal(t, sess.ID, fresh.ID)
	assert.Equal(t, "research", fresh.Alias)
	assert.Equal(t, "go generics", fresh.Title)
	assert.Equal(t, "explain", fresh.LastPrompt)
	assert.Equal(t, "sure", fresh.LastResponse)
	if diff := cmp.Diff(sess.History.Messages(), fresh.History.Messages()); diff != "" {
		t.Errorf("history changed across persistence (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0.5, cfg.Float("model.temperature"))
}

func TestStoreSwitchToDiscardsRuntimeConfig(t *testing.T) {
	st, cfg := newTestStore(t)
	newSavedSession(t, st, cfg, "base", "hello")

	// mutated after the save, so not part of the record's settings diff
	require.NoError(t, cfg.Set("model.temperature", 0.9))

	modeChanges := 0
	id := cfg.Bus().Subscribe(config.EventChangeMode, func(any) { modeChanges++ })
	defer cfg.Bus().Unsubscribe(id)

	fresh := chat.NewSession(cfg, cfg.Bus(), nil)
	t.Cleanup(fresh.Close)
	require.NoError(t, st.SwitchTo("base", fresh))

	// switching re-enters the mode even though it was already active,
	// dropping the post-save mutation and restoring only the saved diff
	assert.NotContains(t, cfg.Modified(), "model.temperature")
	assert.Equal(t, 1, modeChanges)
}

func TestStorePruneEmpty(t *testing.T) {
	st, cfg := newTestStore(t)

	kept := newSavedSession(t, st, cfg, "", "real conversation")
	empty := chat.NewSession(cfg, cfg.Bus(), nil)
	t.Cleanup(empty.Close)
	require.NoError(t, st.Add(empty))

	require.NoError(t, st.PruneEmpty())

	records, err := st.All()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, kept.ID, records[0].ID)
	assert.NotEmpty(t, records[0].History)
}

func TestStoreCyclicNavigation(t *testing.T) {
	st, cfg := newTestStore(t)

	for i := 0; i < 3; i++ {
		newSavedSession(t, st, cfg, "", "m")
	}
	require.NoError(t, st.Delete("2")) // ids now {1, 3}

	next, err := st.NextSessionID(1)
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	next, err = st.NextSessionID(3)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	prev, err := st.PreviousSessionID(1)
	require.NoError(t, err)
	assert.Equal(t, 3, prev)

	prev, err = st.PreviousSessionID(3)
	require.NoError(t, err)
	assert.Equal(t, 1, prev)
}

func TestStoreDeleteAll(t *testing.T) {
	st, cfg := newTestStore(t)

	newSavedSession(t, st, cfg, "one", "a")
	newSavedSession(t, st, cfg, "two", "b")

	require.NoError(t, st.DeleteAll())

	records, err := st.All()
	require.NoError(t, err)
	assert.Empty(t, records)

	available, err := st.IsAliasAvailable("one")
	require.NoError(t, err)
	assert.True(t, available)
}

func TestStoreDeleteUnknown(t *testing.T) {
	st, _ := newTestStore(t)
	err := st.Delete("404")
	require.ErrorIs(t, err, ErrUnknownSession)
}
