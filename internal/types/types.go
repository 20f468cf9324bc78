package types

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by a backend that lacks a primitive.
var ErrUnsupported = errors.New("not supported by this backend")

// Geometry is the capture source's pixel size and rotation as reported by
// the device. Rotation is a quarter-turn index: 0, 1 (90°), 2, 3 (270°).
type Geometry struct {
	Width    int
	Height   int
	Rotation int
}

// Logical returns the size as seen by the user, swapping width and height
// for 90° and 270° rotations.
func (g Geometry) Logical() (int, int) {
	if g.Rotation == 1 || g.Rotation == 3 {
		return g.Height, g.Width
	}
	return g.Width, g.Height
}

type EncoderConfig struct {
	Width            int
	Height           int
	Bitrate          int
	FrameRate        int
	KeyframeInterval time.Duration
	DisplayID        int
}

// EncodedUnit is one output buffer of the hardware encoder. Parameter-set
// units carry PTS 0.
type EncodedUnit struct {
	PTS            int64
	Payload        []byte
	IsParameterSet bool
}

// EncoderOutput is one result of draining an encoder. A format change
// carries the new parameter sets; anything else carries a data unit.
type EncoderOutput struct {
	FormatChanged bool
	ParameterSets [][]byte
	Unit          EncodedUnit
}

// InputSurface is the encoder-side target a capture source renders into.
type InputSurface interface {
	Size() (int, int)
}

// Encoder is a configured hardware encoder instance.
type Encoder interface {
	InputSurface() InputSurface
	Start() error
	// Dequeue blocks up to timeout for the next output. It returns
	// (nil, nil) when nothing was produced in time.
	Dequeue(timeout time.Duration) (*EncoderOutput, error)
	Stop() error
	Release()
}

// EncoderProvider configures a new encoder or fails.
type EncoderProvider interface {
	NewEncoder(cfg EncoderConfig) (Encoder, error)
}

// CaptureSurface is a display source bound to an encoder input.
type CaptureSurface interface {
	Release() error
}

// CaptureProvider binds a display or broadcast source to an encoder input.
type CaptureProvider interface {
	AcquireSurface(target InputSurface, width, height int) (CaptureSurface, error)
}

// DisplayInfo reports the physical display geometry.
type DisplayInfo interface {
	PhysicalSize(ctx context.Context) (int, int, error)
	Rotation(ctx context.Context) (int, error)
}

// PCMSource yields interleaved S16LE samples.
type PCMSource interface {
	Read(buf []byte) (int, error)
	Close() error
}

// PrivilegedContext supplies the primitives that need an elevated
// execution context on the device.
type PrivilegedContext interface {
	CaptureProvider
	OpenAudioLoopback(sampleRate, channels int) (PCMSource, error)
	SetDisplayPowerMode(mode int) error
}

type TouchAction int

const (
	TouchDown TouchAction = iota
	TouchMove
	TouchUp
)

type KeyAction int

const (
	KeyDown KeyAction = iota
	KeyUp
)

type InputInjector interface {
	InjectTouch(action TouchAction, x, y float64) error
	InjectKey(action KeyAction, keyCode, metaState int) error
	InjectText(text string) error
}

type Clipboard interface {
	GetText() (string, error)
	SetText(text string) error
}

// LocationFix is a spoofed position pushed to every test provider.
type LocationFix struct {
	Lat      float64
	Lon      float64
	Alt      float64
	Bearing  float64
	Speed    float64
	Accuracy float64
	Time     time.Time
}

type LocationSpoofer interface {
	StartMocking() error
	StopMocking() error
	SetLocation(fix LocationFix) error
}

// Diagnostics returns JSON documents.
type Diagnostics interface {
	DumpHierarchy() ([]byte, error)
	Stats() ([]byte, error)
}
