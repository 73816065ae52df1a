package loader

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLibraryResolver(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, p := range []string{"/app/libself.so", "/app/libboth.so", "/usr/lib/libboth.so", "/usr/lib/libsys.so", "/opt/lib/libsys.so", "/app/sub/libnested.so"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte{0}, 0o644))
	}
	require.NoError(t, fs.MkdirAll("/usr/lib/libdir.so", 0o755))
	r := NewLibraryResolver(fs, []string{"/usr/lib", "/opt/lib"})

	for _, tt := range []struct {
		name string
		want string
	}{
		{"libself.so", "/app/libself.so"},
		{"libboth.so", "/app/libboth.so"},
		{"libsys.so", "/usr/lib/libsys.so"},
		{"sub/libnested.so", "/app/sub/libnested.so"},
		{"./sub/../libself.so", "/app/libself.so"},
		{"/opt/lib/libsys.so", "/opt/lib/libsys.so"},
	} {
		got, err := r.ResolveLibrary(tt.name, "/app")
		require.NoError(t, err, tt.name)
		require.Equal(t, tt.want, got, tt.name)
	}

	for _, name := range []string{"libmissing.so", "libdir.so", "", "/nowhere/lib.so"} {
		_, err := r.ResolveLibrary(name, "/app")
		require.Error(t, err, name)
	}
}
