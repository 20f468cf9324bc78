package android

import "time"

type Options struct {
	Shell        ShellOptions
	ProbeTimeout time.Duration
	ClipboardGet string
	ClipboardSet string
}

// Device bundles the shell-backed capabilities of one device.
type Device struct {
	Shell      *Shell
	Lines      *LineShell
	Display    *Display
	Recorder   *Recorder
	Privileged *Privileged
	Input      *Input
	Clipboard  *Clipboard
	Location   *Location
}

func NewDevice(opts Options) *Device {
	sh := NewShell(opts.Shell)
	lines := NewLineShell(sh)
	rec := NewRecorder(sh, opts.ProbeTimeout)
	return &Device{
		Shell:      sh,
		Lines:      lines,
		Display:    NewDisplay(sh),
		Recorder:   rec,
		Privileged: NewPrivileged(rec, sh),
		Input:      NewInput(lines),
		Clipboard:  NewClipboard(sh, opts.ClipboardGet, opts.ClipboardSet),
		Location:   NewLocation(sh),
	}
}

func (d *Device) Close() error {
	return d.Lines.Close()
}
