//go:build linux

package diag

import (
	"golang.org/x/sys/unix"
)

// hostInfo describes the machine this process runs on.
func hostInfo() section {
	h := section{}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		h["kernel"] = unix.ByteSliceToString(uts.Release[:])
		h["machine"] = unix.ByteSliceToString(uts.Machine[:])
	}
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		unit := uint64(si.Unit)
		if unit == 0 {
			unit = 1
		}
		h["uptime"] = int64(si.Uptime)
		h["load1"] = float64(si.Loads[0]) / 65536
		h["totalram"] = uint64(si.Totalram) * unit
		h["freeram"] = uint64(si.Freeram) * unit
	}
	return h
}
