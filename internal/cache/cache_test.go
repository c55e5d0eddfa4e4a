package cache

import (
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	c, err := New(fs, Options{ChecksumCacheSize: 8})
	require.NoError(t, err)
	return c, fs
}

func TestCache_WriteReadHas(t *testing.T) {
	c, _ := newTestCache(t)

	assert.False(t, c.Has("RAPPORT_CL/a.pdf"))

	require.NoError(t, c.Write("RAPPORT_CL/a.pdf", []byte("%PDF-1.4 hello")))
	assert.True(t, c.Has("RAPPORT_CL/a.pdf"))
	assert.True(t, c.Has("./RAPPORT_CL/a.pdf"))

	data, err := c.Read("RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 hello", string(data))

	info, err := c.Stat("RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(14), info.Size())
}

func TestCache_EmptyFileIsMissing(t *testing.T) {
	c, fs := newTestCache(t)

	require.NoError(t, fs.MkdirAll("/DIVERS", 0755))
	require.NoError(t, afero.WriteFile(fs, "/DIVERS/empty.pdf", nil, 0644))

	assert.False(t, c.Has("DIVERS/empty.pdf"))
	_, err := c.Read("DIVERS/empty.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = c.Open("DIVERS/empty.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_ReadMissing(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Read("nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_RejectsUnsafeKeys(t *testing.T) {
	c, _ := newTestCache(t)

	for _, key := range []string{"", "../etc/passwd", "/abs.pdf", "a/../../b.pdf"} {
		assert.Error(t, c.Write(key, []byte("x")), key)
		assert.False(t, c.Has(key), key)
	}
}

func TestWriter_CommitIsAtomic(t *testing.T) {
	c, fs := newTestCache(t)

	require.NoError(t, c.Write("RAPPORT_CL/a.pdf", []byte("old")))

	w, err := c.Create("RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	_, err = w.Write([]byte("new content"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), w.Written())

	// Readers keep seeing the previous entry until commit
	data, err := c.Read("RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	require.NoError(t, w.Commit())

	data, err = c.Read("RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))

	entries, err := afero.ReadDir(fs, "/RAPPORT_CL")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Name())
}

func TestWriter_Discard(t *testing.T) {
	c, fs := newTestCache(t)

	w, err := c.Create("DIVERS/b.pdf")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	assert.False(t, c.Has("DIVERS/b.pdf"))
	entries, err := afero.ReadDir(fs, "/DIVERS")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Discard after discard is a no-op, commit is rejected
	assert.NoError(t, w.Discard())
	assert.Error(t, w.Commit())
}

func TestWriter_EmptyCommit(t *testing.T) {
	c, _ := newTestCache(t)

	w, err := c.Create("DIVERS/empty.pdf")
	require.NoError(t, err)
	assert.ErrorIs(t, w.Commit(), ErrEmptyEntry)
	assert.False(t, c.Has("DIVERS/empty.pdf"))
}

func TestCache_Remove(t *testing.T) {
	c, _ := newTestCache(t)

	require.NoError(t, c.Write("a.pdf", []byte("x")))
	require.NoError(t, c.Remove("a.pdf"))
	assert.False(t, c.Has("a.pdf"))
	assert.NoError(t, c.Remove("a.pdf"))
}

func TestCache_Open(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Write("a.pdf", []byte("0123456789")))

	f, info, err := c.Open("a.pdf")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(10), info.Size())

	section := io.NewSectionReader(f, 2, 3)
	got, err := io.ReadAll(section)
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))
}

func TestCache_Checksum(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Write("a.pdf", []byte("abc")))

	sum1, err := c.Checksum("a.pdf")
	require.NoError(t, err)
	assert.Len(t, sum1, 64)

	sum2, err := c.Checksum("a.pdf")
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)

	require.NoError(t, c.Write("a.pdf", []byte("abcd")))
	sum3, err := c.Checksum("a.pdf")
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum3)

	_, err = c.Checksum("missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_Usage(t *testing.T) {
	c, fs := newTestCache(t)
	require.NoError(t, c.Write("A/a.pdf", []byte("12345")))
	require.NoError(t, c.Write("B/b.pdf", []byte("123")))

	// In-progress writers are not counted
	w, err := c.Create("B/c.pdf")
	require.NoError(t, err)
	_, err = w.Write([]byte("pending"))
	require.NoError(t, err)
	defer w.Discard()

	require.NoError(t, afero.WriteFile(fs, "/B/zero.pdf", nil, os.FileMode(0644)))

	u, err := c.Usage()
	require.NoError(t, err)
	assert.Equal(t, 2, u.Entries)
	assert.Equal(t, int64(8), u.Bytes)
	assert.Zero(t, u.DiskTotal)
}

func TestNewOnDisk(t *testing.T) {
	dir := t.TempDir()
	c, err := NewOnDisk(dir, Options{})
	require.NoError(t, err)

	require.NoError(t, c.Write("RAPPORT_CL/2024/x.pdf", []byte("disk")))
	assert.FileExists(t, dir+"/RAPPORT_CL/2024/x.pdf")

	u, err := c.Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, u.Entries)
	assert.Positive(t, u.DiskTotal)
}
