package filter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	t.Parallel()

	doc := "# seniority\nSr\n\n  Lead  # managers too\n#junior\nC++\n"
	keywords, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, []string{"sr", "lead", "c++"}, keywords)
}

func TestDenylistMatchesWholeWordsOnly(t *testing.T) {
	t.Parallel()

	d := New([]string{"sr"})
	require.False(t, d.Keep("Sr Backend Engineer"))
	require.False(t, d.Keep("Backend Engineer (SR)"))
	require.False(t, d.Keep("sr. data engineer"))
	require.True(t, d.Keep("Backend Engineer, Israel"))
	require.True(t, d.Keep("Srinivas Tools Developer"))
}

func TestDenylistUnicodeBoundaries(t *testing.T) {
	t.Parallel()

	d := New([]string{"lead", "c++"})
	require.True(t, d.Keep("Leadership Coach"))
	require.True(t, d.Keep("Mißlead Analyst"))
	require.False(t, d.Keep("Team Lead – Plattform"))
	require.False(t, d.Keep("Senior C++ Developer"))

	kw, hit := d.Match("Tech LEAD")
	require.True(t, hit)
	require.Equal(t, "lead", kw)
}

func TestEmptyDenylistKeepsEverything(t *testing.T) {
	t.Parallel()

	d := New(nil)
	require.Zero(t, d.Len())
	require.True(t, d.Keep("anything at all"))
}

func TestLoadMissingFileKeepsEverything(t *testing.T) {
	t.Parallel()

	d, err := Load(filepath.Join(t.TempDir(), "filters.txt"), nil)
	require.NoError(t, err)
	require.True(t, d.Keep("Sr Engineer"))
}

func TestReloadPicksUpChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "filters.txt")
	require.NoError(t, os.WriteFile(path, []byte("intern\n"), 0o600))
	d, err := Load(path, nil)
	require.NoError(t, err)
	require.False(t, d.Keep("Software Intern"))
	require.True(t, d.Keep("Staff Engineer"))

	require.NoError(t, os.WriteFile(path, []byte("staff\n"), 0o600))
	require.NoError(t, d.Reload())
	require.True(t, d.Keep("Software Intern"))
	require.False(t, d.Keep("Staff Engineer"))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "filters.txt")
	require.NoError(t, os.WriteFile(path, []byte("intern\n"), 0o600))
	d, err := Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("intern\nmanager\n"), 0o600))
	require.Eventually(t, func() bool {
		return !d.Keep("Engineering Manager")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchRequiresFile(t *testing.T) {
	t.Parallel()

	require.Error(t, New([]string{"x"}).Watch(context.Background()))
}
