package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/b3-market-data/internal/storage/local"
)

func writeZip(t *testing.T, members map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "2024-05-01.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func newExtractor(t *testing.T) (*Extractor, string) {
	t.Helper()
	out := t.TempDir()
	store, err := local.New(local.Config{BaseDir: out})
	require.NoError(t, err)
	ex, err := New(store, "", nil)
	require.NoError(t, err)
	return ex, out
}

func walk(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				return relErr
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestExtractWritesOnlyTextMembers(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t, map[string]string{
		"a.txt":        "x",
		"b.csv":        "y",
		"dir/c.txt":    "z",
		"notes.txt.gz": "gz",
	})
	ex, out := newExtractor(t)

	members, err := ex.Extract(context.Background(), archivePath)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a.txt", members[0].Name)
	assert.Equal(t, filepath.Join(out, "a.txt"), members[0].Path)
	assert.Equal(t, int64(1), members[0].Bytes)
	assert.Equal(t, "dir/c.txt", members[1].Name)

	assert.Equal(t, []string{"a.txt", "dir/c.txt"}, walk(t, out))
	// #nosec G304 -- test reads from the controlled temp directory.
	got, err := os.ReadFile(filepath.Join(out, "dir", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "z", string(got))
}

func TestExtractRejectsZipSlip(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t, map[string]string{
		"../../evil.txt": "pwned",
		"ok.txt":         "fine",
	})
	ex, out := newExtractor(t)

	_, err := ex.Extract(context.Background(), archivePath)
	require.ErrorIs(t, err, ErrUnsafeMember)
	assert.Empty(t, walk(t, out))
}

func TestExtractCorruptArchive(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "2024-05-02.zip")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o600))
	ex, out := newExtractor(t)

	_, err := ex.Extract(context.Background(), p)
	require.Error(t, err)
	assert.Empty(t, walk(t, out))
}

func TestExtractCustomExtension(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t, map[string]string{"a.txt": "x", "b.csv": "y"})
	out := t.TempDir()
	store, err := local.New(local.Config{BaseDir: out})
	require.NoError(t, err)
	ex, err := New(store, ".csv", nil)
	require.NoError(t, err)

	members, err := ex.Extract(context.Background(), archivePath)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "b.csv", members[0].Name)
}

func TestMemberPath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.txt", want: "a.txt"},
		{in: "dir/./c.txt", want: "dir/c.txt"},
		{in: `win\path.txt`, want: "win/path.txt"},
		{in: "dir/../a.txt", want: "a.txt"},
		{in: "../a.txt", wantErr: true},
		{in: "/etc/a.txt", wantErr: true},
	}
	for _, tc := range testCases {
		got, err := memberPath(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrUnsafeMember, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "", nil)
	require.Error(t, err)
}
