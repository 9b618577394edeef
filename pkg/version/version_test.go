package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	defer func(v, d, c string) { Version, BuildDate, BuildTime = v, d, c }(Version, BuildDate, BuildTime)

	Version, BuildDate, BuildTime = "2.1", "Sep 17 2020", "10:11:12"
	assert.Equal(t, "2.1 Sep 17 2020 10:11:12", String())

	BuildDate, BuildTime = "", ""
	s := String()
	require.True(t, strings.HasPrefix(s, "2.1 "))
	assert.Len(t, strings.Fields(s), 5)
}
