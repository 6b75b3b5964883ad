package target

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maps = `55d0c9a00000-55d0c9a02000 r--p 00000000 08:02 173521     /opt/app/utils
55d0c9a02000-55d0c9a08000 r-xp 00002000 08:02 173521     /opt/app/utils
7f1c2e000000-7f1c2e021000 rw-p 00000000 00:00 0
7f1c2e200000-7f1c2e228000 r--p 00000000 08:02 265        /usr/lib/libc.so.6
7ffd5a3c1000-7ffd5a3e2000 rw-p 00000000 00:00 0          [stack]
`

func TestFindMapStart(t *testing.T) {
	start, err := findMapStart(strings.NewReader(maps), "/opt/app/utils")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x55d0c9a00000), start)

	start, err = findMapStart(strings.NewReader(maps), "/usr/lib/libc.so.6")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7f1c2e200000), start)

	_, err = findMapStart(strings.NewReader(maps), "/opt/app/other")
	assert.Error(t, err)
}

func TestFindMapStartDeleted(t *testing.T) {
	start, err := findMapStart(strings.NewReader("00400000-00452000 r-xp 00000000 08:02 173521 /opt/app/utils (deleted)\n"), "/opt/app/utils")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x400000), start)
}
