package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

type stubOneShot struct{ tag string }

func (s stubOneShot) FetchAll(_ context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	return []crawler.JobRecord{{ID: s.tag + "-" + target.Name}}, nil
}

type stubBatched struct{}

func (stubBatched) FetchPage(_ context.Context, target crawler.Target, offset int) (crawler.Page, error) {
	return crawler.Page{Records: []crawler.JobRecord{{ID: target.Name}}, KnownTotal: offset + 1}, nil
}

func (stubBatched) FetchDescription(_ context.Context, handle crawler.DescriptionHandle) (string, error) {
	return "desc:" + handle.URL, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(crawler.KindGreenhouse, Entry{OneShot: stubOneShot{tag: "gh"}}))
	require.NoError(t, r.Register(crawler.KindWorkday, Entry{Batched: stubBatched{}, Describer: stubBatched{}}))
	require.NoError(t, r.Register(crawler.KindAdzuna, Entry{OneShot: stubOneShot{tag: "az"}, Aggregator: true}))
	return r
}

func TestRegisterValidatesEntries(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.Error(t, r.Register("", Entry{OneShot: stubOneShot{}}))
	require.Error(t, r.Register(crawler.KindLever, Entry{}))
	require.Error(t, r.Register(crawler.KindAdzuna, Entry{Batched: stubBatched{}, Aggregator: true}))
}

func TestClassifyBuckets(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	plan, err := r.Classify([]crawler.Target{
		{Name: "acme", Kind: crawler.KindGreenhouse},
		{Name: "nvidia", Kind: crawler.KindWorkday},
		{Name: "board", Kind: crawler.KindAdzuna},
		{Name: "globex", Kind: crawler.KindGreenhouse},
	})
	require.NoError(t, err)
	require.Len(t, plan.OneShot, 2)
	require.Len(t, plan.Wave, 1)
	require.Len(t, plan.Aggregator, 1)
	require.Equal(t, 4, plan.Len())
	require.Equal(t, "nvidia", plan.Wave[0].Name)
}

func TestClassifyRejectsUnknownAndDuplicates(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	_, err := r.Classify([]crawler.Target{{Name: "x", Kind: "myspace"}})
	require.ErrorIs(t, err, crawler.ErrUnknownKind)

	_, err = r.Classify([]crawler.Target{
		{Name: "acme", Kind: crawler.KindGreenhouse},
		{Name: "acme", Kind: crawler.KindWorkday},
	})
	require.Error(t, err)

	_, err = r.Classify([]crawler.Target{{Kind: crawler.KindGreenhouse}})
	require.Error(t, err)
}

func TestRoutersDispatchByKind(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	ctx := context.Background()

	recs, err := r.OneShot().FetchAll(ctx, crawler.Target{Name: "acme", Kind: crawler.KindGreenhouse})
	require.NoError(t, err)
	require.Equal(t, "gh-acme", recs[0].ID)

	page, err := r.Batched().FetchPage(ctx, crawler.Target{Name: "nvidia", Kind: crawler.KindWorkday}, 20)
	require.NoError(t, err)
	require.Equal(t, 21, page.KnownTotal)

	_, err = r.Batched().FetchPage(ctx, crawler.Target{Name: "acme", Kind: crawler.KindGreenhouse}, 0)
	require.Error(t, err)

	desc, err := r.Describer().FetchDescription(ctx, crawler.DescriptionHandle{Kind: crawler.KindWorkday, URL: "u"})
	require.NoError(t, err)
	require.Equal(t, "desc:u", desc)

	_, err = r.Describer().FetchDescription(ctx, crawler.DescriptionHandle{Kind: crawler.KindGreenhouse})
	require.Error(t, err)

	require.Equal(t, []crawler.SourceKind{crawler.KindAdzuna, crawler.KindGreenhouse, crawler.KindWorkday}, r.Kinds())
}
