package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_LdflagsWin(t *testing.T) {
	// Given: values injected at link time
	oldV, oldC, oldD := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })
	Version, Commit, Date = "v1.4.0", "0123456789abcdef0123", "2026-05-01T10:00:00Z"

	// When
	info := Get()

	// Then
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "0123456789abcdef0123", info.Commit)
	assert.False(t, info.Modified)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "careindex v1.4.0 (commit: 0123456789ab, built: 2026-05-01T10:00:00Z, "+
		runtime.Version()+", "+info.Platform+")", info.String())
}

func TestGet_NeverEmpty(t *testing.T) {
	info := Get()

	assert.Equal(t, Short(), info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.Date)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfo_StringMarksDirtyTree(t *testing.T) {
	i := Info{Version: "dev", Commit: "abc", Date: "unknown", Modified: true, GoVersion: "go1.25", Platform: "linux/amd64"}

	assert.Equal(t, "careindex dev (commit: abc-dirty, built: unknown, go1.25, linux/amd64)", i.String())
}
