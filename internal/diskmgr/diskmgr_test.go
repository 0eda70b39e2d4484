package diskmgr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/internal/page"
	"relcore/internal/types"
)

func TestOpenInitializesFreshSuperblock(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	defer dm.Close()

	require.Equal(t, types.CatalogRootPageId, dm.CatalogPageID())
}

func TestAllocatePageReturnsIncreasingIDs(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	defer dm.Close()

	a, err := dm.AllocatePage()
	require.NoError(t, err)
	b, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Greater(t, b, a)
}

func TestReadWritePageRoundTrips(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.AllocatePage()
	require.NoError(t, err)

	var src [page.Size]byte
	src[0] = 0xAB
	src[page.Size-1] = 0xCD
	require.NoError(t, dm.WritePage(id, &src))

	var dst [page.Size]byte
	require.NoError(t, dm.ReadPage(id, &dst))
	require.Equal(t, src, dst)
}

func TestFreePageIsReusedByNextAllocate(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, dm.FreePage(id))

	reused, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}

func TestFreeListOrdersMostRecentlyFreedFirst(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	defer dm.Close()

	a, err := dm.AllocatePage()
	require.NoError(t, err)
	b, err := dm.AllocatePage()
	require.NoError(t, err)

	require.NoError(t, dm.FreePage(a))
	require.NoError(t, dm.FreePage(b))

	first, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, b, first)

	second, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, a, second)
}

func TestSetCatalogPageIDPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	dm, err := Open(path, nil)
	require.NoError(t, err)

	newRoot, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, dm.SetCatalogPageID(newRoot))
	require.NoError(t, dm.Sync())
	require.NoError(t, dm.Close())

	dm2, err := Open(path, nil)
	require.NoError(t, err)
	defer dm2.Close()
	require.Equal(t, newRoot, dm2.CatalogPageID())
}

func TestAllocatePageExtendsFileWhenFreeListEmpty(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	defer dm.Close()

	var last types.PageId
	for i := 0; i < 10; i++ {
		id, err := dm.AllocatePage()
		require.NoError(t, err)
		require.Greater(t, id, last)
		last = id
	}
}
