//go:build linux

package supervisor

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProcNetTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 41234 1 0000000000000000 100 0 0 10 0
   1: 0100007F:1F90 0100007F:D2F0 01 00000000:00000000 00:00000000 00000000  1000        0 41299 1 0000000000000000 20 4 30 10 -1
   2: 00000000:0016 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 1777 1 0000000000000000 100 0 0 10 0
`

func TestParseProcNetTCP(t *testing.T) {
	inodes, err := parseProcNetTCP(strings.NewReader(sampleProcNetTCP), 8080)
	require.NoError(t, err)
	assert.Equal(t, []string{"41234"}, inodes, "established sockets are ignored")

	inodes, err = parseProcNetTCP(strings.NewReader(sampleProcNetTCP), 22)
	require.NoError(t, err)
	assert.Equal(t, []string{"1777"}, inodes)

	inodes, err = parseProcNetTCP(strings.NewReader(sampleProcNetTCP), 9999)
	require.NoError(t, err)
	assert.Empty(t, inodes)
}

func TestProcTableFindByPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	pids, err := NewProcessTable().FindByPort(port)
	require.NoError(t, err)
	assert.Contains(t, pids, os.Getpid())
}

func TestProcTableFindByName(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	pids, err := NewProcessTable().FindByName(filepath.Base(exe))
	require.NoError(t, err)
	assert.Contains(t, pids, os.Getpid())
}

func TestProcTableKillMissingPid(t *testing.T) {
	// pid_max is at most 2^22 on Linux.
	require.NoError(t, NewProcessTable().Kill(1<<22+1))
}
