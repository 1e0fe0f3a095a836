package mime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	table := Default()
	require.Equal(t, "text/html;charset=utf-8", table.Lookup("/var/www/index.html"))
	require.Equal(t, PNG, table.Lookup("a/b/c.png"))
	require.Equal(t, OctetStream, table.Lookup("Makefile"))
	require.Equal(t, OctetStream, table.Lookup("archive.tar.xz"))

	table[".xz"] = "application/x-xz"
	require.Equal(t, "application/x-xz", table.Lookup("archive.tar.xz"))
	require.Equal(t, OctetStream, Default().Lookup("archive.tar.xz"))
}
