package portman

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// lookupTimeout bounds each external lookup command.
const lookupTimeout = 5 * time.Second

// ExecFunc runs a lookup command and returns its stdout.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// SystemLookup finds listeners with lsof, falling back to ss on Linux and
// netstat on Windows.
type SystemLookup struct {
	Exec ExecFunc // default runs the command on the host
	GOOS string   // default runtime.GOOS
}

// Listeners returns the processes listening on TCP port.
func (l *SystemLookup) Listeners(ctx context.Context, port int) ([]Ownership, error) {
	if l.goos() == "windows" {
		out, err := l.exec(ctx, "netstat", "-ano", "-p", "TCP")
		if err != nil {
			return nil, fmt.Errorf("netstat: %w", err)
		}
		owners := parseNetstat(out, port)
		for i := range owners {
			owners[i].Name = l.windowsName(ctx, owners[i].PID)
		}
		return owners, nil
	}

	out, lsofErr := l.exec(ctx, "lsof", "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-Fpc")
	if owners := parseLsof(out); len(owners) > 0 {
		return owners, nil
	}
	if l.goos() != "linux" {
		if lsofErr != nil {
			return nil, fmt.Errorf("lsof: %w", lsofErr)
		}
		return nil, nil
	}

	out, err := l.exec(ctx, "ss", "-Hltnp", "sport", "=", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("ss: %w", err)
	}
	return parseSS(out, port), nil
}

// Cmdline returns the full command line of pid, or "" when unavailable.
func (l *SystemLookup) Cmdline(ctx context.Context, pid int) string {
	if l.goos() == "windows" {
		return l.windowsName(ctx, pid)
	}
	if l.goos() == "linux" {
		if raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid)); err == nil && len(raw) > 0 {
			return parseProcCmdline(raw)
		}
	}
	out, err := l.exec(ctx, "ps", "-o", "command=", "-p", strconv.Itoa(pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (l *SystemLookup) windowsName(ctx context.Context, pid int) string {
	out, err := l.exec(ctx, "tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")
	if err != nil {
		return ""
	}
	return parseTasklist(out)
}

func (l *SystemLookup) exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	if l.Exec != nil {
		return l.Exec(ctx, name, args...)
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}

func (l *SystemLookup) goos() string {
	if l.GOOS != "" {
		return l.GOOS
	}
	return runtime.GOOS
}

// parseLsof reads lsof -F output: "p<pid>" starts a process set and
// "c<command>" names it. Other field lines are ignored.
func parseLsof(out []byte) []Ownership {
	var owners []Ownership
	seen := map[int]bool{}
	cur := -1
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case 'p':
			pid, err := strconv.Atoi(line[1:])
			if err != nil || pid <= 0 || seen[pid] {
				cur = -1
				continue
			}
			seen[pid] = true
			owners = append(owners, Ownership{PID: pid})
			cur = len(owners) - 1
		case 'c':
			if cur >= 0 {
				owners[cur].Name = line[1:]
			}
		}
	}
	return owners
}

var ssUserRe = regexp.MustCompile(`\("([^"]+)",pid=(\d+)`)

// parseSS reads ss -Hltnp output, e.g.
//
//	LISTEN 0 511 0.0.0.0:3000 0.0.0.0:* users:(("node",pid=1234,fd=20))
func parseSS(out []byte, port int) []Ownership {
	var owners []Ownership
	seen := map[int]bool{}
	suffix := ":" + strconv.Itoa(port)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.HasSuffix(fields[3], suffix) {
			continue
		}
		for _, m := range ssUserRe.FindAllStringSubmatch(scanner.Text(), -1) {
			pid, err := strconv.Atoi(m[2])
			if err != nil || seen[pid] {
				continue
			}
			seen[pid] = true
			owners = append(owners, Ownership{PID: pid, Name: m[1]})
		}
	}
	return owners
}

// parseNetstat reads Windows netstat -ano rows, e.g.
//
//	TCP    0.0.0.0:3000    0.0.0.0:0    LISTENING    1234
func parseNetstat(out []byte, port int) []Ownership {
	var owners []Ownership
	seen := map[int]bool{}
	suffix := ":" + strconv.Itoa(port)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 5 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if fields[3] != "LISTENING" || !strings.HasSuffix(fields[1], suffix) {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		owners = append(owners, Ownership{PID: pid})
	}
	return owners
}

// parseTasklist extracts the image name from tasklist /FO CSV /NH output.
func parseTasklist(out []byte) string {
	line := strings.TrimSpace(string(out))
	if !strings.HasPrefix(line, `"`) {
		return ""
	}
	end := strings.Index(line[1:], `"`)
	if end < 0 {
		return ""
	}
	return line[1 : end+1]
}

func parseProcCmdline(raw []byte) string {
	parts := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	return strings.Join(parts, " ")
}
