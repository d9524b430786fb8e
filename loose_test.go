package objstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRawLoose stores already-assembled (pre-deflate) object bytes at the
// loose path for id, bypassing the well-formed helper.
func writeRawLoose(t *testing.T, gitDir string, id Hash, raw []byte) {
	t.Helper()
	path := loosePath(filepath.Join(gitDir, "objects"), id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, deflate(t, raw), 0o644))
}

func TestOpenLoose(t *testing.T) {
	t.Run("empty blob", func(t *testing.T) {
		dir := initRepo(t)
		id := writeLooseObject(t, dir, ObjBlob, nil)

		// The empty blob has a well-known ID.
		assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", id.String())

		lo, err := openLoose(filepath.Join(dir, "objects"), id)
		require.NoError(t, err)
		defer lo.Close()

		assert.Equal(t, ObjBlob, lo.typ)
		assert.Equal(t, uint64(0), lo.size)

		data, err := lo.readAll()
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("payload continues after the header", func(t *testing.T) {
		dir := initRepo(t)
		payload := []byte("package main\n\nfunc main() {}\n")
		id := writeLooseObject(t, dir, ObjBlob, payload)

		lo, err := openLoose(filepath.Join(dir, "objects"), id)
		require.NoError(t, err)
		defer lo.Close()

		assert.Equal(t, uint64(len(payload)), lo.size)
		got, err := io.ReadAll(lo)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("all four kinds parse", func(t *testing.T) {
		dir := initRepo(t)
		for _, typ := range []ObjectType{ObjCommit, ObjTree, ObjBlob, ObjTag} {
			id := writeLooseObject(t, dir, typ, []byte("x"))
			lo, err := openLoose(filepath.Join(dir, "objects"), id)
			require.NoError(t, err, "kind %s", typ)
			assert.Equal(t, typ, lo.typ)
			require.NoError(t, lo.Close())
		}
	})

	t.Run("missing object", func(t *testing.T) {
		dir := initRepo(t)
		_, err := openLoose(filepath.Join(dir, "objects"), hashObject(ObjBlob, []byte("absent")))
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("not a zlib stream", func(t *testing.T) {
		dir := initRepo(t)
		id := hashObject(ObjBlob, []byte("junk"))
		path := loosePath(filepath.Join(dir, "objects"), id)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("not zlib at all"), 0o644))

		_, err := openLoose(filepath.Join(dir, "objects"), id)
		assert.ErrorIs(t, err, ErrBadLooseObject)
	})

	t.Run("unknown type keyword", func(t *testing.T) {
		dir := initRepo(t)
		id := hashObject(ObjBlob, []byte("a"))
		writeRawLoose(t, dir, id, []byte("glob 1\x00a"))

		_, err := openLoose(filepath.Join(dir, "objects"), id)
		assert.ErrorIs(t, err, ErrBadLooseObject)
	})

	t.Run("missing size separator", func(t *testing.T) {
		dir := initRepo(t)
		id := hashObject(ObjBlob, []byte("b"))
		writeRawLoose(t, dir, id, []byte("blob1\x00b"))

		_, err := openLoose(filepath.Join(dir, "objects"), id)
		assert.ErrorIs(t, err, ErrBadLooseObject)
	})

	t.Run("non-decimal size", func(t *testing.T) {
		dir := initRepo(t)
		id := hashObject(ObjBlob, []byte("c"))
		writeRawLoose(t, dir, id, []byte("blob one\x00c"))

		_, err := openLoose(filepath.Join(dir, "objects"), id)
		assert.ErrorIs(t, err, ErrBadLooseObject)
	})

	t.Run("unterminated header", func(t *testing.T) {
		dir := initRepo(t)
		id := hashObject(ObjBlob, []byte("d"))
		writeRawLoose(t, dir, id, []byte("blob 11111111111111111111111111111111111111"))

		_, err := openLoose(filepath.Join(dir, "objects"), id)
		assert.ErrorIs(t, err, ErrBadLooseObject)
	})

	t.Run("payload shorter than declared", func(t *testing.T) {
		dir := initRepo(t)
		id := hashObject(ObjBlob, []byte("ee"))
		writeRawLoose(t, dir, id, []byte("blob 3\x00ee"))

		lo, err := openLoose(filepath.Join(dir, "objects"), id)
		require.NoError(t, err)
		defer lo.Close()

		_, err = lo.readAll()
		assert.ErrorIs(t, err, ErrBadLooseObject)
	})

	t.Run("payload longer than declared", func(t *testing.T) {
		dir := initRepo(t)
		id := hashObject(ObjBlob, []byte("ff"))
		writeRawLoose(t, dir, id, []byte("blob 1\x00ff"))

		lo, err := openLoose(filepath.Join(dir, "objects"), id)
		require.NoError(t, err)
		defer lo.Close()

		_, err = lo.readAll()
		assert.ErrorIs(t, err, ErrBadLooseObject)
	})
}
