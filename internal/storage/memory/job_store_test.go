package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	job := crawler.StoredJob{
		JobRecord:    crawler.JobRecord{ID: "job-1", Title: "Go Engineer"},
		DiscoveredAt: base,
	}

	require.NoError(t, store.Insert(ctx, job))
	require.ErrorIs(t, store.Insert(ctx, job), crawler.ErrDuplicate)
	require.Error(t, store.Insert(ctx, crawler.StoredJob{}))

	ok, err := store.Exists(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Exists(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	second := crawler.StoredJob{
		JobRecord:    crawler.JobRecord{ID: "job-0"},
		DiscoveredAt: base.Add(time.Minute),
	}
	require.NoError(t, store.Insert(ctx, second))

	pending, err := store.ListByRelevance(ctx, crawler.RelevancePending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "job-1", pending[0].ID, "oldest first")

	require.NoError(t, store.UpdateClassification(ctx, "job-1", crawler.RelevanceRelevant, crawler.Classification{
		Relevant:      true,
		Reason:        "Go backend",
		TechStack:     []string{"go", "postgres"},
		YearsRequired: 3,
	}))
	require.ErrorIs(t, store.UpdateClassification(ctx, "ghost", crawler.RelevanceRejected, crawler.Classification{}),
		crawler.ErrNotFound)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RelevanceRelevant, got.Relevance)
	require.Equal(t, []string{"go", "postgres"}, got.TechStack)
	require.Equal(t, 3, got.YearsRequired)

	unsent, err := store.ListUnnotified(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 1)

	require.NoError(t, store.MarkNotified(ctx, []string{"job-1", "ghost"}))
	unsent, err = store.ListUnnotified(ctx)
	require.NoError(t, err)
	require.Empty(t, unsent)

	_, err = store.Get(ctx, "ghost")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.Equal(t, 2, store.Len())
}
