package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReadTree_Exclusions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", "{}")
	writeFile(t, root, "src/app/page.tsx", "export default null")
	writeFile(t, root, "node_modules/dep/index.js", "ignored")
	writeFile(t, root, ".next/cache.bin", "ignored")
	writeFile(t, root, "package-lock.json", "ignored")
	writeFile(t, root, ".env", "SECRET=1")

	files, err := ReadTree(root)
	require.NoError(t, err)

	names := Names(files)
	assert.Equal(t, []string{"package.json", "src/app/page.tsx"}, names)
}

func TestWriteTree_RoundTrip(t *testing.T) {
	root := t.TempDir()
	in := []File{
		{Name: "a.txt", Content: "alpha\n"},
		{Name: "nested/deep/b.txt", Content: "beta\n"},
	}
	require.NoError(t, WriteTree(root, in))

	out, err := ReadTree(root)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteTree_RejectsEscape(t *testing.T) {
	root := t.TempDir()
	err := WriteTree(root, []File{{Name: "../evil.txt", Content: "x"}})
	require.Error(t, err)

	err = WriteTree(root, []File{{Name: "/abs.txt", Content: "x"}})
	require.Error(t, err)
}

func TestUpsertLookupRemove(t *testing.T) {
	files := []File{{Name: "a", Content: "1"}}

	files = Upsert(files, "a", "2")
	files = Upsert(files, "b", "3")
	require.Len(t, files, 2)

	f, ok := Lookup(files, "a")
	require.True(t, ok)
	assert.Equal(t, "2", f.Content)

	files = Remove(files, "a")
	_, ok = Lookup(files, "a")
	assert.False(t, ok)
	require.Len(t, files, 1)
}
