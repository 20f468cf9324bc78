// Package diag answers the stats and hierarchy commands.
package diag

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultDumpPath = "/data/local/tmp/nl_ui_dump.xml"
)

// Shell runs a command on the device and returns its stdout.
type Shell interface {
	Output(ctx context.Context, cmd string) ([]byte, error)
}

type Options struct {
	Timeout  time.Duration
	DumpPath string
}

// Monitor implements types.Diagnostics on top of a device shell.
type Monitor struct {
	sh   Shell
	opts Options
	now  func() time.Time
}

func New(sh Shell, opts Options) *Monitor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DumpPath == "" {
		opts.DumpPath = DefaultDumpPath
	}
	return &Monitor{sh: sh, opts: opts, now: time.Now}
}

func (m *Monitor) run(cmd string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()
	return m.sh.Output(ctx, cmd)
}

type section map[string]any

func errSection(err error) section { return section{"error": err.Error()} }

// Stats returns a JSON snapshot of device CPU, memory and identity plus
// this process's own counters.
func (m *Monitor) Stats() ([]byte, error) {
	doc := section{
		"cpu":       m.cpu(),
		"memory":    m.memory(),
		"device":    m.device(),
		"mirror":    counters(),
		"timestamp": m.now().UnixMilli(),
	}
	if h := hostInfo(); h != nil {
		doc["host"] = h
	}
	return json.Marshal(doc)
}

func (m *Monitor) cpu() section {
	out, err := m.run("cat /proc/stat")
	if err != nil {
		return errSection(err)
	}
	total, used, err := parseProcStat(out)
	if err != nil {
		return errSection(err)
	}
	pct := int64(0)
	if total > 0 {
		pct = used * 100 / total
	}
	return section{"total": total, "used": used, "percentage": pct}
}

// parseProcStat reads the aggregate cpu line: user nice system idle ...
func parseProcStat(out []byte) (total, used int64, err error) {
	line, _, _ := bytes.Cut(out, []byte("\n"))
	f := strings.Fields(string(line))
	if len(f) < 5 || f[0] != "cpu" {
		return 0, 0, fmt.Errorf("unexpected /proc/stat line %q", line)
	}
	var v [4]int64
	for i := range v {
		if v[i], err = strconv.ParseInt(f[i+1], 10, 64); err != nil {
			return 0, 0, fmt.Errorf("parse /proc/stat: %w", err)
		}
	}
	used = v[0] + v[1] + v[2]
	return used + v[3], used, nil
}

func (m *Monitor) memory() section {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	used, limit := int64(ms.HeapAlloc), int64(ms.Sys)
	mem := section{"used": used, "max": limit, "percentage": used * 100 / limit}

	out, err := m.run("cat /proc/meminfo")
	if err != nil {
		mem["system"] = errSection(err)
		return mem
	}
	info := parseMeminfo(out)
	sys := section{}
	for _, k := range []string{"MemTotal", "MemAvailable", "MemFree"} {
		if v, ok := info[k]; ok {
			sys[k] = v
		}
	}
	mem["system"] = sys
	return mem
}

// parseMeminfo returns /proc/meminfo values in bytes.
func parseMeminfo(out []byte) map[string]int64 {
	info := map[string]int64{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		f := strings.Fields(rest)
		if len(f) == 0 {
			continue
		}
		v, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			continue
		}
		if len(f) > 1 && f[1] == "kB" {
			v *= 1024
		}
		info[key] = v
	}
	return info
}

var deviceProps = []string{
	"ro.product.manufacturer",
	"ro.product.model",
	"ro.build.version.sdk",
	"ro.build.version.release",
}

func (m *Monitor) device() section {
	cmds := make([]string, len(deviceProps))
	for i, p := range deviceProps {
		cmds[i] = "getprop " + p
	}
	out, err := m.run(strings.Join(cmds, "; "))
	if err != nil {
		return errSection(err)
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	for len(lines) < len(deviceProps) {
		lines = append(lines, "")
	}
	sdk, _ := strconv.Atoi(strings.TrimSpace(lines[2]))
	return section{
		"manufacturer": strings.TrimSpace(lines[0]),
		"model":        strings.TrimSpace(lines[1]),
		"sdk":          sdk,
		"release":      strings.TrimSpace(lines[3]),
	}
}

// counters collects every integer expvar published by this process.
func counters() section {
	c := section{}
	expvar.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			c[kv.Key] = v.Value()
		}
	})
	return c
}
