package enginemanager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/decisions/rules"
)

func bucketSet(name string) *rules.DecisionSet {
	return &rules.DecisionSet{
		Name:          name,
		Key:           "bucket",
		DefaultAction: "low",
		Rules: []rules.RuleDefinition{
			{Condition: "score >= 90", Action: "high"},
			{Condition: "score >= 50", Action: "medium"},
		},
		Active: true,
	}
}

func scores(t *testing.T, values ...any) *rules.Table {
	t.Helper()
	table, err := rules.NewTableFromColumns([]string{"score"}, [][]any{values})
	require.NoError(t, err)
	return table
}

func TestManager_CreateAndGetEngine(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())

	require.NoError(t, m.Create(bucketSet("pricing")))

	engine, err := m.GetEngine("pricing")
	require.NoError(t, err)

	col, err := engine.GetActions(scores(t, 10, 60, 95))
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "medium", "high"}, col.Strings())
	assert.Equal(t, []string{"pricing"}, m.List())
}

func TestManager_GetEngineNotFound(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())

	_, err := m.GetEngine("missing")
	assert.True(t, errors.Is(err, rules.ErrDecisionSetNotFound))
}

func TestManager_CreateInvalid(t *testing.T) {
	store := rules.NewInMemoryDecisionSetStore()
	m := NewManager(store)

	ds := bucketSet("bad")
	ds.Rules[0].Condition = "score >="

	err := m.Create(ds)
	require.Error(t, err)
	assert.True(t, rules.IsConfigError(err))

	_, err = store.Get("bad")
	assert.True(t, errors.Is(err, rules.ErrDecisionSetNotFound), "invalid decision set must not be stored")
}

func TestManager_CreateDuplicate(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())

	require.NoError(t, m.Create(bucketSet("dup")))
	err := m.Create(bucketSet("dup"))
	assert.True(t, errors.Is(err, rules.ErrDecisionSetExists))
}

func TestManager_CreateInactiveIsNotServed(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())

	ds := bucketSet("draft")
	ds.Active = false
	require.NoError(t, m.Create(ds))

	_, err := m.GetEngine("draft")
	assert.Error(t, err)
}

func TestManager_UpdateSwapsEngine(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())
	require.NoError(t, m.Create(bucketSet("pricing")))

	before, err := m.GetEngine("pricing")
	require.NoError(t, err)

	updated := bucketSet("pricing")
	updated.DefaultAction = "none"
	require.NoError(t, m.Update(updated))

	after, err := m.GetEngine("pricing")
	require.NoError(t, err)
	assert.NotSame(t, before, after)

	col, err := after.GetActions(scores(t, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"none"}, col.Strings())

	// the old engine keeps working for callers that still hold it
	col, err = before.GetActions(scores(t, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"low"}, col.Strings())
}

func TestManager_UpdateInvalidKeepsPreviousEngine(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())
	require.NoError(t, m.Create(bucketSet("pricing")))

	bad := bucketSet("pricing")
	bad.Rules = append(bad.Rules, rules.RuleDefinition{Condition: "(", Action: "x"})
	require.Error(t, m.Update(bad))

	engine, err := m.GetEngine("pricing")
	require.NoError(t, err)
	assert.Equal(t, 2, engine.RuleSet().Len())
}

func TestManager_UpdateDeactivates(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())
	require.NoError(t, m.Create(bucketSet("pricing")))

	ds := bucketSet("pricing")
	ds.Active = false
	require.NoError(t, m.Update(ds))

	assert.Empty(t, m.List())
}

func TestManager_UpdateNonexistent(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())

	err := m.Update(bucketSet("ghost"))
	assert.True(t, errors.Is(err, rules.ErrDecisionSetNotFound))
	assert.Empty(t, m.List())
}

func TestManager_Delete(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())
	require.NoError(t, m.Create(bucketSet("pricing")))

	require.NoError(t, m.Delete("pricing"))
	_, err := m.GetEngine("pricing")
	assert.Error(t, err)

	assert.True(t, errors.Is(m.Delete("pricing"), rules.ErrDecisionSetNotFound))
}

func TestManager_LoadAll(t *testing.T) {
	store := rules.NewInMemoryDecisionSetStore()
	require.NoError(t, store.Add(bucketSet("alpha")))
	require.NoError(t, store.Add(bucketSet("bravo")))
	inactive := bucketSet("charlie")
	inactive.Active = false
	require.NoError(t, store.Add(inactive))

	m := NewManager(store)
	require.NoError(t, m.LoadAll())

	assert.Equal(t, []string{"alpha", "bravo"}, m.List())

	me, err := m.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, SourceStore, me.Source)
}

func TestManager_LoadAllKeepsFileSourcedEngine(t *testing.T) {
	store := rules.NewInMemoryDecisionSetStore()
	require.NoError(t, store.Add(bucketSet("pricing")))

	m := NewManager(store)
	fromFile := bucketSet("pricing")
	fromFile.DefaultAction = "file"
	require.NoError(t, m.Put(fromFile, "/etc/decisions/pricing.toml"))

	for i := 0; i < 2; i++ {
		require.NoError(t, m.LoadAll())

		me, err := m.Get("pricing")
		require.NoError(t, err)
		assert.Equal(t, SourceFile, me.Source)
		assert.Equal(t, "file", me.DecisionSet.DefaultAction)
	}
}

func TestManager_LoadAllUsesCache(t *testing.T) {
	store := rules.NewInMemoryDecisionSetStore()
	require.NoError(t, store.Add(bucketSet("alpha")))

	cache := rules.NewInMemoryDecisionSetCache(rules.DefaultCacheConfig())
	m := NewManager(store, WithCache(cache))

	require.NoError(t, m.LoadAll())
	assert.True(t, cache.IsValid())

	// a write behind the manager's back is not seen until the cache is invalidated
	require.NoError(t, store.Add(bucketSet("bravo")))
	require.NoError(t, m.LoadAll())
	assert.Equal(t, []string{"alpha"}, m.List())

	require.NoError(t, m.Create(bucketSet("charlie")))
	assert.False(t, cache.IsValid(), "Create must invalidate the cache")

	require.NoError(t, m.LoadAll())
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, m.List())
}

func TestManager_LoadAllFailsOnBrokenSet(t *testing.T) {
	store := rules.NewInMemoryDecisionSetStore()
	broken := bucketSet("broken")
	broken.DefaultAction = ""
	require.NoError(t, store.Add(broken))

	m := NewManager(store)
	assert.Error(t, m.LoadAll())
}

func TestManager_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bucket.toml"), bucketTOML)
	writeFile(t, filepath.Join(dir, "tier.json"), `{"key": "tier", "rule_config": {"default_action": "basic", "rules": [["spend > 1000", "gold"]]}}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	m := NewManager(rules.NewInMemoryDecisionSetStore())
	loaded, err := m.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, []string{"bucket", "tier"}, m.List())

	me, err := m.Get("bucket")
	require.NoError(t, err)
	assert.Equal(t, SourceFile, me.Source)
	assert.Equal(t, filepath.Join(dir, "bucket.toml"), me.Path)

	// a broken edit keeps the previous engine; a removed file drops its engine
	writeFile(t, filepath.Join(dir, "bucket.toml"), "key = ")
	require.NoError(t, os.Remove(filepath.Join(dir, "tier.json")))

	loaded, err = m.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
	assert.Equal(t, []string{"bucket"}, m.List())

	again, err := m.Get("bucket")
	require.NoError(t, err)
	assert.Same(t, me, again)
}

func TestManager_Concurrency(t *testing.T) {
	m := NewManager(rules.NewInMemoryDecisionSetStore())
	require.NoError(t, m.Create(bucketSet("shared")))

	table := scores(t, 95, 10)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			engine, err := m.GetEngine("shared")
			if !assert.NoError(t, err) {
				return
			}
			col, err := engine.GetActions(table)
			if assert.NoError(t, err) {
				assert.Equal(t, "high", col.Strings()[0])
			}
		}()
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.Create(bucketSet(fmt.Sprintf("set-%d", i))))
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.List(), 21)
}

func TestNameFromPath(t *testing.T) {
	assert.Equal(t, "bucket", NameFromPath("/etc/rules/bucket.toml"))
	assert.Equal(t, "risk.v2", NameFromPath("risk.v2.yaml"))
}

func TestIsConfigFile(t *testing.T) {
	assert.True(t, IsConfigFile("a.toml"))
	assert.True(t, IsConfigFile("a.JSON"))
	assert.True(t, IsConfigFile("dir/a.yml"))
	assert.False(t, IsConfigFile("a.txt"))
	assert.False(t, IsConfigFile(".hidden.toml"))
}

const bucketTOML = `key = "bucket"

[rule_config]
default_action = "low"
rules = [["score >= 90", "high"], ["score >= 50", "medium"]]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
