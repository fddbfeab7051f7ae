//go:build linux

package supervisor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const tcpListen = "0A"

// NewProcessTable returns the process table for this platform.
func NewProcessTable() ProcessTable { return procTable{root: "/proc"} }

// procTable reads /proc directly.
type procTable struct {
	root string
}

func (t procTable) FindByName(name string) ([]int, error) {
	pids, err := t.pids()
	if err != nil {
		return nil, err
	}
	var out []int
	for _, pid := range pids {
		if t.matchesName(pid, name) {
			out = append(out, pid)
		}
	}
	return out, nil
}

func (t procTable) matchesName(pid int, name string) bool {
	dir := filepath.Join(t.root, strconv.Itoa(pid))
	// comm is truncated to 15 bytes, so fall back to argv[0].
	if comm, err := os.ReadFile(filepath.Join(dir, "comm")); err == nil {
		if strings.TrimSpace(string(comm)) == name {
			return true
		}
	}
	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv0, _, _ := bytes.Cut(cmdline, []byte{0})
	return filepath.Base(string(argv0)) == name
}

func (t procTable) FindByPort(port int) ([]int, error) {
	inodes := map[string]bool{}
	for _, file := range []string{"net/tcp", "net/tcp6"} {
		f, err := os.Open(filepath.Join(t.root, file))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		found, err := parseProcNetTCP(f, port)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		for _, inode := range found {
			inodes[inode] = true
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	pids, err := t.pids()
	if err != nil {
		return nil, err
	}
	var out []int
	for _, pid := range pids {
		fdDir := filepath.Join(t.root, strconv.Itoa(pid), "fd")
		entries, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			link, err := os.Readlink(filepath.Join(fdDir, e.Name()))
			if err != nil {
				continue
			}
			inode, ok := strings.CutPrefix(link, "socket:[")
			if ok && inodes[strings.TrimSuffix(inode, "]")] {
				out = append(out, pid)
				break
			}
		}
	}
	return out, nil
}

func (procTable) Kill(pid int) error { return killPid(pid) }

func (t procTable) pids() ([]int, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, e := range entries {
		if pid, err := strconv.Atoi(e.Name()); err == nil && e.IsDir() {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// parseProcNetTCP returns the socket inodes listening on port.
func parseProcNetTCP(r io.Reader, port int) ([]string, error) {
	var inodes []string
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 || fields[3] != tcpListen {
			continue
		}
		_, hexPort, ok := strings.Cut(fields[1], ":")
		if !ok {
			continue
		}
		p, err := strconv.ParseUint(hexPort, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("local address %q: %w", fields[1], err)
		}
		if int(p) == port {
			inodes = append(inodes, fields[9])
		}
	}
	return inodes, scanner.Err()
}
