package target

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// readProcComm read /proc/pid/comm or /proc/pid/stat to load the command line of process.
func readProcComm(pid int) (string, error) {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		// removes newline character
		comm = bytes.TrimSuffix(comm, []byte("\n"))
	}

	if len(comm) == 0 {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return "", fmt.Errorf("could not read proc stat: %v", err)
		}
		expr := fmt.Sprintf("%d\\s*\\((.*)\\)", pid)
		rexp, err := regexp.Compile(expr)
		if err != nil {
			return "", fmt.Errorf("regexp compile error: %v", err)
		}
		match := rexp.FindSubmatch(stat)
		if match == nil {
			return "", fmt.Errorf("no match found using regexp '%s' in /proc/%d/stat", expr, pid)
		}
		comm = match[1]
	}

	cmdStr := strings.ReplaceAll(string(comm), "%", "%%")
	return cmdStr, nil
}

// readProcCommArgs read /proc/pid/cmdline to load the command arguments of process
func readProcCommArgs(pid int) ([]string, error) {
	dat, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, err
	}
	args := strings.Split(strings.TrimSuffix(string(dat), "\x00"), "\x00")
	if len(args) == 0 {
		return nil, nil
	}
	return args[1:], nil
}

// readProcExe resolves /proc/pid/exe, the executable symbols are loaded from
func readProcExe(pid int) (string, error) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", fmt.Errorf("could not read proc exe: %v", err)
	}
	return strings.TrimSuffix(exe, " (deleted)"), nil
}

// ExeMapStart returns the lowest address exe is mapped at in the process
func (t *DebuggedProcess) ExeMapStart() (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", t.Process.Pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return findMapStart(f, t.Exe)
}

// findMapStart scans a /proc/pid/maps listing for the first mapping of path
func findMapStart(r io.Reader, path string) (uint64, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		// 00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/foo
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || strings.TrimSuffix(strings.Join(fields[5:], " "), " (deleted)") != path {
			continue
		}
		rng := strings.SplitN(fields[0], "-", 2)
		start, err := strconv.ParseUint(rng[0], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid mapping %q: %v", fields[0], err)
		}
		return start, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s is not mapped", path)
}
