package android

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
)

// Size reported when wm size output cannot be parsed.
const (
	FallbackWidth  = 720
	FallbackHeight = 1280
)

// Display implements types.DisplayInfo with wm and dumpsys.
type Display struct {
	sh *Shell
}

func NewDisplay(sh *Shell) *Display { return &Display{sh: sh} }

func (d *Display) PhysicalSize(ctx context.Context) (int, int, error) {
	out, err := d.sh.Output(ctx, "wm size")
	if err != nil {
		return 0, 0, err
	}
	w, h, ok := parseWMSize(string(out))
	if !ok {
		log.Printf("display: unrecognised wm size output %q, assuming %dx%d", out, FallbackWidth, FallbackHeight)
		return FallbackWidth, FallbackHeight, nil
	}
	return w, h, nil
}

var sizeRe = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// parseWMSize prefers the override size over the physical one.
func parseWMSize(out string) (w, h int, ok bool) {
	for _, m := range sizeRe.FindAllStringSubmatch(out, -1) {
		mw, _ := strconv.Atoi(m[2])
		mh, _ := strconv.Atoi(m[3])
		if mw <= 0 || mh <= 0 {
			continue
		}
		if m[1] == "Override" || !ok {
			w, h, ok = mw, mh, true
		}
	}
	return w, h, ok
}

func (d *Display) Rotation(ctx context.Context) (int, error) {
	out, err := d.sh.Output(ctx, "dumpsys input | grep -m 1 -E 'SurfaceOrientation|orientation='")
	if err != nil {
		return 0, err
	}
	return parseRotation(string(out))
}

var rotationRe = regexp.MustCompile(`(?:SurfaceOrientation:\s*|orientation=)(\d)`)

func parseRotation(out string) (int, error) {
	m := rotationRe.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no orientation in %q", strings.TrimSpace(out))
	}
	r, _ := strconv.Atoi(m[1])
	if r > 3 {
		return 0, fmt.Errorf("rotation %d out of range", r)
	}
	return r, nil
}
