package cas_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/kraklabs/unitcache/pkg/cas"
	"github.com/kraklabs/unitcache/pkg/errtax"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compress(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(raw)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestWriteRead_RoundTrips(t *testing.T) {
	store := cas.New(t.TempDir())
	content := []byte("hello, unit cache")
	key := hash.Sum(content)

	require.NoError(t, store.Write(key, bytes.NewReader(content)))

	ok, err := store.Exists(key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Read(key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWrite_IsIdempotent(t *testing.T) {
	store := cas.New(t.TempDir())
	content := []byte("dup")
	key := hash.Sum(content)

	require.NoError(t, store.Write(key, bytes.NewReader(content)))
	require.NoError(t, store.Write(key, bytes.NewReader(content)))
}

func TestWrite_HashMismatchIsNotWritten(t *testing.T) {
	store := cas.New(t.TempDir())
	wrongKey := hash.Sum([]byte("something else"))

	err := store.Write(wrongKey, bytes.NewReader([]byte("actual bytes")))
	require.Error(t, err)
	assert.True(t, errtax.Is(err, errtax.HashMismatch))

	ok, err := store.Exists(wrongKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRead_MissingKeyIsNotFound(t *testing.T) {
	store := cas.New(t.TempDir())
	_, err := store.Read(hash.Sum([]byte("never written")))
	require.Error(t, err)
	assert.True(t, errtax.Is(err, errtax.NotFound))
}

func TestReadBulk_SkipsMissingKeys(t *testing.T) {
	store := cas.New(t.TempDir())
	present := []byte("present")
	presentKey := hash.Sum(present)
	require.NoError(t, store.Write(presentKey, bytes.NewReader(present)))

	missingKey := hash.Sum([]byte("missing"))

	var seen []hash.Key
	err := store.ReadBulk([]hash.Key{presentKey, missingKey}, func(k hash.Key, rc io.ReadCloser) error {
		defer rc.Close()
		seen = append(seen, k)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []hash.Key{presentKey}, seen)
}

func TestWriteBulk_ReportsPerKeyOutcome(t *testing.T) {
	store := cas.New(t.TempDir())
	a := []byte("a")
	aKey := hash.Sum(a)
	require.NoError(t, store.Write(aKey, bytes.NewReader(a)))

	b := []byte("b")
	bKey := hash.Sum(b)

	items := []struct {
		key hash.Key
		r   io.Reader
	}{
		{aKey, bytes.NewReader(a)},
		{bKey, bytes.NewReader(b)},
	}
	i := 0
	results := store.WriteBulk(func() (hash.Key, io.Reader, bool) {
		if i >= len(items) {
			return hash.Key{}, nil, false
		}
		it := items[i]
		i++
		return it.key, it.r, true
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Skipped)
	assert.True(t, results[1].Written)
}

func TestWriteCompressed_StoresPrecompressedBytesAndVerifiesHash(t *testing.T) {
	store := cas.New(t.TempDir())
	content := []byte("wire-transferred bytes")
	key := hash.Sum(content)
	compressed := compress(t, content)

	require.NoError(t, store.WriteCompressed(key, bytes.NewReader(compressed)))

	rc, err := store.Read(key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWriteCompressed_HashMismatchIsNotWritten(t *testing.T) {
	store := cas.New(t.TempDir())
	wrongKey := hash.Sum([]byte("something else"))
	compressed := compress(t, []byte("actual bytes"))

	err := store.WriteCompressed(wrongKey, bytes.NewReader(compressed))
	require.Error(t, err)
	assert.True(t, errtax.Is(err, errtax.HashMismatch))
}

func TestReadCompressed_RoundTripsViaExternalDecoder(t *testing.T) {
	store := cas.New(t.TempDir())
	content := []byte("raw compressed round trip")
	key := hash.Sum(content)
	require.NoError(t, store.Write(key, bytes.NewReader(content)))

	rc, err := store.ReadCompressed(key)
	require.NoError(t, err)
	defer rc.Close()
	compressedBytes, err := io.ReadAll(rc)
	require.NoError(t, err)

	dec, err := zstd.NewReader(bytes.NewReader(compressedBytes))
	require.NoError(t, err)
	defer dec.Close()
	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
