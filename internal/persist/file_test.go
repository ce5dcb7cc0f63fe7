package persist

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state struct {
	µ      sync.Mutex
	Values []int `json:"values"`
}

func (s *state) snapshot() interface{} {
	s.µ.Lock()
	defer s.µ.Unlock()
	return map[string][]int{"values": append([]int(nil), s.Values...)}
}

func TestScheduleIsLossless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := &state{}
	f := NewFile(path, s.snapshot, nil)

	for i := 0; i < 50; i++ {
		s.µ.Lock()
		s.Values = append(s.Values, i)
		s.µ.Unlock()
		f.Schedule()
	}
	f.Wait()

	var loaded struct {
		Values []int `json:"values"`
	}
	found, err := Load(path, &loaded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, loaded.Values, 50)
	assert.Equal(t, 49, loaded.Values[49])
}

func TestFlushAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := NewFile(path, func() interface{} { return map[string]string{"a": "b"} }, nil)
	require.NoError(t, f.Flush())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	matches, err := filepath.Glob(path + ".tmp*")
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files must be renamed away")
}

func TestLoadMissing(t *testing.T) {
	var v map[string]string
	found, err := Load(filepath.Join(t.TempDir(), "nope.json"), &v)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestLoadWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte("// written by hand\n{\"a\": \"b c\"}\n"), 0o600))

	var v map[string]string
	found, err := Load(path, &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b c", v["a"])
}

func TestLoadEscapedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	payload := map[string]string{"p": `{"name":"x","value":"a/b \" c"}`}
	f := NewFile(path, func() interface{} { return payload }, nil)
	require.NoError(t, f.Save())

	var v map[string]string
	_, err := Load(path, &v)
	require.NoError(t, err)
	assert.Equal(t, payload, v)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	var v map[string]string
	found, err := Load(path, &v)
	assert.True(t, found)
	assert.Error(t, err)
}
