package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// PersistenceFactory returns an empty store for one subtest.
type PersistenceFactory func(t *testing.T) persistence.Persistence

// IndexFactory returns an empty bookmark and trigger index for one subtest.
type IndexFactory func(t *testing.T) persistence.IndexStore

// RunPersistenceSuite exercises every repository of a Persistence implementation.
func RunPersistenceSuite(t *testing.T, newStore PersistenceFactory) {
	t.Helper()

	t.Run("definitions", func(t *testing.T) {
		RunDefinitionSuite(t, newStore)
	})

	t.Run("instances", func(t *testing.T) {
		RunInstanceSuite(t, newStore)
	})

	t.Run("index", func(t *testing.T) {
		RunIndexSuite(t, func(t *testing.T) persistence.IndexStore {
			return newStore(t)
		})
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}

// RunDefinitionSuite exercises a WorkflowDefinitionRepository.
func RunDefinitionSuite(t *testing.T, newStore PersistenceFactory) {
	t.Helper()

	t.Run("save and find by id", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowDefinitionRepository()

		def := CreateTestDefinition(WithVersion(1, true, true))
		require.NoError(t, repo.Save(ctx, def))

		found, err := repo.FindByID(ctx, def.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, def.DefinitionID, found.DefinitionID)
		assert.Equal(t, def.StringData, found.StringData)
		assert.True(t, found.IsPublished)
		assert.True(t, found.IsLatest)
		assert.Equal(t, def.ActivationStrategy, found.ActivationStrategy)
	})

	t.Run("missing definition returns nil", func(t *testing.T) {
		repo := newStore(t).WorkflowDefinitionRepository()

		found, err := repo.FindByID(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("save without id fails", func(t *testing.T) {
		repo := newStore(t).WorkflowDefinitionRepository()

		err := repo.Save(context.Background(), CreateTestDefinition(func(d *models.WorkflowDefinition) {
			d.ID = ""
		}))
		assert.True(t, persistence.IsMissingID(err))
	})

	t.Run("save upserts", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowDefinitionRepository()

		def := CreateTestDefinition()
		require.NoError(t, repo.Save(ctx, def))

		def.Name = "Renamed"
		def.IsPublished = true
		require.NoError(t, repo.Save(ctx, def))

		found, err := repo.FindByID(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", found.Name)
		assert.True(t, found.IsPublished)
	})

	t.Run("find by definition id honors version options", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowDefinitionRepository()

		v1 := CreateTestDefinition(WithDefinitionID("def-1"), WithVersion(1, false, false))
		v2 := CreateTestDefinition(WithDefinitionID("def-1"), WithVersion(2, false, true))
		v3 := CreateTestDefinition(WithDefinitionID("def-1"), WithVersion(3, true, false))
		other := CreateTestDefinition(WithDefinitionID("def-2"), WithVersion(7, true, true))

		for _, d := range []*models.WorkflowDefinition{v1, v2, v3, other} {
			require.NoError(t, repo.Save(ctx, d))
		}

		tests := []struct {
			name    string
			opts    models.VersionOptions
			version int
		}{
			{name: "latest", opts: models.VersionLatest, version: 3},
			{name: "published", opts: models.VersionPublished, version: 2},
			{name: "latest or published", opts: models.VersionLatestOrPublished, version: 3},
			{name: "specific", opts: models.SpecificVersion(1), version: 1},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				found, err := repo.FindByDefinitionID(ctx, "def-1", tt.opts)
				require.NoError(t, err)
				require.NotNil(t, found)
				assert.Equal(t, tt.version, found.Version)
				assert.Equal(t, "def-1", found.DefinitionID)
			})
		}

		found, err := repo.FindByDefinitionID(ctx, "def-1", models.SpecificVersion(9))
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("latest and published and list published", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowDefinitionRepository()

		require.NoError(t, repo.Save(ctx, CreateTestDefinition(WithDefinitionID("a"), WithVersion(1, false, false))))
		require.NoError(t, repo.Save(ctx, CreateTestDefinition(WithDefinitionID("a"), WithVersion(2, false, true))))
		require.NoError(t, repo.Save(ctx, CreateTestDefinition(WithDefinitionID("a"), WithVersion(3, true, false))))
		require.NoError(t, repo.Save(ctx, CreateTestDefinition(WithDefinitionID("b"), WithVersion(1, true, true))))

		flagged, err := repo.FindLatestAndPublished(ctx, "a")
		require.NoError(t, err)
		require.Len(t, flagged, 2)
		assert.Equal(t, 2, flagged[0].Version)
		assert.Equal(t, 3, flagged[1].Version)

		published, err := repo.ListPublished(ctx)
		require.NoError(t, err)
		require.Len(t, published, 2)
		assert.Equal(t, "a", published[0].DefinitionID)
		assert.Equal(t, "b", published[1].DefinitionID)
	})

	t.Run("delete by definition id", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowDefinitionRepository()

		require.NoError(t, repo.Save(ctx, CreateTestDefinition(WithDefinitionID("gone"), WithVersion(1, false, true))))
		require.NoError(t, repo.Save(ctx, CreateTestDefinition(WithDefinitionID("gone"), WithVersion(2, true, false))))
		keep := CreateTestDefinition(WithDefinitionID("kept"))
		require.NoError(t, repo.Save(ctx, keep))

		count, err := repo.DeleteByDefinitionID(ctx, "gone")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		found, err := repo.FindByDefinitionID(ctx, "gone", models.VersionLatest)
		require.NoError(t, err)
		assert.Nil(t, found)

		found, err = repo.FindByID(ctx, keep.ID)
		require.NoError(t, err)
		assert.NotNil(t, found)
	})
}

// RunInstanceSuite exercises a WorkflowInstanceRepository.
func RunInstanceSuite(t *testing.T, newStore PersistenceFactory) {
	t.Helper()

	t.Run("save and find by id", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowInstanceRepository()

		state := CreateTestState(func(s *models.WorkflowState) {
			s.CorrelationID = "order-1"
			s.Bookmarks = []models.Bookmark{{
				ID:                 "b1",
				Name:               "Event",
				Hash:               "h1",
				ActivityID:         "wait",
				ActivityInstanceID: "ai1",
				AutoBurn:           true,
				Callback:           models.ResumeComplete,
			}}
		})
		require.NoError(t, repo.Save(ctx, state))

		found, err := repo.FindByID(ctx, state.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, state.DefinitionID, found.DefinitionID)
		assert.Equal(t, "order-1", found.CorrelationID)
		assert.Equal(t, models.WorkflowStatusSuspended, found.Status)
		assert.Equal(t, state.Bookmarks, found.Bookmarks)
		assert.Equal(t, float64(1), found.Variables["counter"])
	})

	t.Run("missing instance returns nil", func(t *testing.T) {
		repo := newStore(t).WorkflowInstanceRepository()

		found, err := repo.FindByID(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("save replaces snapshot", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowInstanceRepository()

		state := CreateTestState()
		require.NoError(t, repo.Save(ctx, state))

		finished := time.Now().UTC().Truncate(time.Millisecond)
		state.Status = models.WorkflowStatusFinished
		state.FinishedAt = &finished
		require.NoError(t, repo.Save(ctx, state))

		found, err := repo.FindByID(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusFinished, found.Status)
		require.NotNil(t, found.FinishedAt)
		assert.True(t, finished.Equal(*found.FinishedAt))
	})

	t.Run("find by filter", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowInstanceRepository()

		base := time.Now().UTC().Truncate(time.Millisecond)
		a := CreateTestState(func(s *models.WorkflowState) {
			s.DefinitionID = "d1"
			s.CorrelationID = "c1"
			s.CreatedAt = base
		})
		b := CreateTestState(func(s *models.WorkflowState) {
			s.DefinitionID = "d1"
			s.Status = models.WorkflowStatusFinished
			s.CreatedAt = base.Add(time.Second)
		})
		c := CreateTestState(func(s *models.WorkflowState) {
			s.DefinitionID = "d2"
			s.Status = models.WorkflowStatusRunning
			s.CreatedAt = base.Add(2 * time.Second)
		})

		for _, s := range []*models.WorkflowState{a, b, c} {
			require.NoError(t, repo.Save(ctx, s))
		}

		tests := []struct {
			name   string
			filter models.InstanceFilter
			want   []string
		}{
			{name: "by definition", filter: models.InstanceFilter{DefinitionID: "d1"}, want: []string{a.ID, b.ID}},
			{name: "by correlation", filter: models.InstanceFilter{DefinitionID: "d1", CorrelationID: "c1"}, want: []string{a.ID}},
			{
				name:   "running statuses",
				filter: models.InstanceFilter{Statuses: []models.WorkflowStatus{models.WorkflowStatusRunning, models.WorkflowStatusSuspended}},
				want:   []string{a.ID, c.ID},
			},
			{name: "no match", filter: models.InstanceFilter{DefinitionID: "d3"}, want: []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				found, err := repo.Find(ctx, tt.filter)
				require.NoError(t, err)

				ids := make([]string, 0, len(found))
				for _, s := range found {
					ids = append(ids, s.ID)
				}

				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("delete by definition id", func(t *testing.T) {
		ctx := context.Background()
		repo := newStore(t).WorkflowInstanceRepository()

		require.NoError(t, repo.Save(ctx, CreateTestState(func(s *models.WorkflowState) { s.DefinitionID = "gone" })))
		require.NoError(t, repo.Save(ctx, CreateTestState(func(s *models.WorkflowState) { s.DefinitionID = "gone" })))
		require.NoError(t, repo.Save(ctx, CreateTestState(func(s *models.WorkflowState) { s.DefinitionID = "kept" })))

		count, err := repo.DeleteByDefinitionID(ctx, "gone")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		left, err := repo.Find(ctx, models.InstanceFilter{})
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "kept", left[0].DefinitionID)
	})
}

// RunIndexSuite exercises the bookmark and trigger repositories of an index.
func RunIndexSuite(t *testing.T, newIndex IndexFactory) {
	t.Helper()

	t.Run("bookmarks by hash", func(t *testing.T) {
		ctx := context.Background()
		repo := newIndex(t).BookmarkRepository()

		b1 := CreateTestStoredBookmark("h1", "i1")
		b2 := CreateTestStoredBookmark("h1", "i2")
		b3 := CreateTestStoredBookmark("h2", "i1")
		require.NoError(t, repo.Save(ctx, []*models.StoredBookmark{b1, b2, b3}))

		found, err := repo.FindByHash(ctx, "h1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{b1.BookmarkID, b2.BookmarkID}, bookmarkIDs(found))

		found, err = repo.FindByHash(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("remove selected bookmarks of instance", func(t *testing.T) {
		ctx := context.Background()
		repo := newIndex(t).BookmarkRepository()

		b1 := CreateTestStoredBookmark("h1", "i1")
		b2 := CreateTestStoredBookmark("h1", "i1")
		b3 := CreateTestStoredBookmark("h1", "i2")
		require.NoError(t, repo.Save(ctx, []*models.StoredBookmark{b1, b2, b3}))

		require.NoError(t, repo.RemoveByInstance(ctx, "h1", "i1", []string{b1.BookmarkID}))

		found, err := repo.FindByHash(ctx, "h1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{b2.BookmarkID, b3.BookmarkID}, bookmarkIDs(found))
	})

	t.Run("remove all bookmarks of instance", func(t *testing.T) {
		ctx := context.Background()
		repo := newIndex(t).BookmarkRepository()

		b1 := CreateTestStoredBookmark("h1", "i1")
		b2 := CreateTestStoredBookmark("h1", "i1")
		b3 := CreateTestStoredBookmark("h1", "i2")
		require.NoError(t, repo.Save(ctx, []*models.StoredBookmark{b1, b2, b3}))

		require.NoError(t, repo.RemoveByInstance(ctx, "h1", "i1", nil))
		require.NoError(t, repo.RemoveByInstance(ctx, "h1", "absent", nil))

		found, err := repo.FindByHash(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, []string{b3.BookmarkID}, bookmarkIDs(found))
	})

	t.Run("triggers replace by definition", func(t *testing.T) {
		ctx := context.Background()
		repo := newIndex(t).TriggerRepository()

		old := CreateTestTrigger("d1", "h-old")
		other := CreateTestTrigger("d2", "h-new")
		require.NoError(t, repo.ReplaceByDefinitionID(ctx, "d1", []*models.Trigger{old}))
		require.NoError(t, repo.ReplaceByDefinitionID(ctx, "d2", []*models.Trigger{other}))

		fresh := CreateTestTrigger("d1", "h-new")
		require.NoError(t, repo.ReplaceByDefinitionID(ctx, "d1", []*models.Trigger{fresh}))

		found, err := repo.FindByHash(ctx, "h-old")
		require.NoError(t, err)
		assert.Empty(t, found)

		found, err = repo.FindByHash(ctx, "h-new")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{fresh.ID, other.ID}, triggerIDs(found))

		found, err = repo.FindByActivityType(ctx, "Webhook")
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("triggers delete by definition", func(t *testing.T) {
		ctx := context.Background()
		repo := newIndex(t).TriggerRepository()

		require.NoError(t, repo.ReplaceByDefinitionID(ctx, "d1", []*models.Trigger{CreateTestTrigger("d1", "h")}))
		require.NoError(t, repo.ReplaceByDefinitionID(ctx, "d2", []*models.Trigger{CreateTestTrigger("d2", "h")}))

		require.NoError(t, repo.DeleteByDefinitionID(ctx, "d1"))

		found, err := repo.FindByHash(ctx, "h")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "d2", found[0].WorkflowDefinitionID)
	})
}

func bookmarkIDs(bookmarks []*models.StoredBookmark) []string {
	ids := make([]string, 0, len(bookmarks))
	for _, b := range bookmarks {
		ids = append(ids, b.BookmarkID)
	}

	return ids
}

func triggerIDs(triggers []*models.Trigger) []string {
	ids := make([]string, 0, len(triggers))
	for _, t := range triggers {
		ids = append(ids, t.ID)
	}

	return ids
}
