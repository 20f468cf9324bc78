package android

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"nlmirror/internal/h264"
	"nlmirror/internal/types"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

const (
	DefaultProbeTimeout = 3 * time.Second
	outputQueue         = 128
	encoderStopTimeout  = time.Second
)

// launchFunc starts script and returns its stdout and a wait function.
type launchFunc func(ctx context.Context, script string) (io.ReadCloser, func() error, error)

// Recorder encodes the display with screenrecord. It is both the encoder
// provider and the capture provider, since screenrecord binds its own
// display source.
type Recorder struct {
	probe  time.Duration
	launch launchFunc
}

func NewRecorder(sh *Shell, probe time.Duration) *Recorder {
	if probe <= 0 {
		probe = DefaultProbeTimeout
	}
	return &Recorder{
		probe: probe,
		launch: func(ctx context.Context, script string) (io.ReadCloser, func() error, error) {
			rc, cmd, err := sh.Stream(ctx, script, "screenrecord")
			if err != nil {
				return nil, nil, err
			}
			return rc, cmd.Wait, nil
		},
	}
}

type recordSurface struct{ w, h int }

func (s recordSurface) Size() (int, int) { return s.w, s.h }

type binding struct{}

func (binding) Release() error { return nil }

// AcquireSurface checks that target belongs to a screenrecord encoder of
// the requested size.
func (r *Recorder) AcquireSurface(target types.InputSurface, w, h int) (types.CaptureSurface, error) {
	s, ok := target.(recordSurface)
	if !ok {
		return nil, fmt.Errorf("screenrecord: foreign input surface %T", target)
	}
	if s.w != w || s.h != h {
		return nil, fmt.Errorf("screenrecord: surface is %dx%d, capture requested %dx%d", s.w, s.h, w, h)
	}
	return binding{}, nil
}

func (r *Recorder) NewEncoder(cfg types.EncoderConfig) (types.Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("screenrecord: unsupported size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Bitrate <= 0 {
		return nil, fmt.Errorf("screenrecord: invalid bitrate %d", cfg.Bitrate)
	}
	return &screenEncoder{
		r:       r,
		cfg:     cfg,
		outputs: make(chan *types.EncoderOutput, outputQueue),
		errc:    make(chan error, 1),
	}, nil
}

func (r *Recorder) script(cfg types.EncoderConfig) string {
	s := fmt.Sprintf("screenrecord --output-format=h264 --size %dx%d --bit-rate %d", cfg.Width, cfg.Height, cfg.Bitrate)
	if cfg.DisplayID != 0 {
		s += fmt.Sprintf(" --display-id %d", cfg.DisplayID)
	}
	return s + " -"
}

type screenEncoder struct {
	r   *Recorder
	cfg types.EncoderConfig

	outputs chan *types.EncoderOutput
	errc    chan error

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  time.Time
	stopOnce sync.Once
}

func (e *screenEncoder) InputSurface() types.InputSurface {
	return recordSurface{e.cfg.Width, e.cfg.Height}
}

// Start launches screenrecord and waits for its first output. An exit
// before any output means the device rejected the configuration.
func (e *screenEncoder) Start() error {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.done = make(chan struct{})
	e.started = time.Now()

	first := make(chan error, 1)
	go e.run(first)

	select {
	case err := <-first:
		if err != nil {
			e.Stop()
			return err
		}
	case <-time.After(e.r.probe):
		log.Printf("screenrecord: no output within %v, continuing", e.r.probe)
	}
	return nil
}

// run records until stopped, relaunching screenrecord whenever it exits on
// its own (it has a built-in time limit).
func (e *screenEncoder) run(first chan<- error) {
	defer close(e.done)
	script := e.r.script(e.cfg)
	for launch := 0; ; launch++ {
		produced, err := e.record(script, first)
		if e.ctx.Err() != nil {
			return
		}
		if produced == 0 {
			err = fmt.Errorf("screenrecord %dx%d: exited without output (launch %d): %w", e.cfg.Width, e.cfg.Height, launch+1, err)
			select {
			case first <- err:
			default:
			}
			e.errc <- err
			return
		}
		log.Printf("screenrecord: exited after %d units (%v), relaunching", produced, err)
	}
}

func (e *screenEncoder) record(script string, first chan<- error) (int, error) {
	rc, wait, err := e.r.launch(e.ctx, script)
	if err != nil {
		return 0, err
	}
	defer func() {
		rc.Close()
		wait()
	}()

	reader, err := h264reader.NewReader(rc)
	if err != nil {
		return 0, err
	}
	asm := &assembler{}
	produced := 0
	for {
		nal, err := reader.NextNAL()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return produced, err
		}
		pts := time.Since(e.started).Microseconds()
		for _, out := range asm.push(nal.Data, pts) {
			select {
			case e.outputs <- out:
			case <-e.ctx.Done():
				return produced, e.ctx.Err()
			}
			if produced == 0 {
				select {
				case first <- nil:
				default:
				}
			}
			produced++
		}
	}
}

func (e *screenEncoder) Dequeue(timeout time.Duration) (*types.EncoderOutput, error) {
	select {
	case out := <-e.outputs:
		return out, nil
	case err := <-e.errc:
		return nil, err
	case <-time.After(timeout):
		return nil, nil
	}
}

func (e *screenEncoder) Stop() error {
	e.stopOnce.Do(func() {
		if e.cancel == nil {
			return
		}
		e.cancel()
		select {
		case <-e.done:
		case <-time.After(encoderStopTimeout):
			log.Printf("screenrecord: reader did not exit within %v", encoderStopTimeout)
		}
	})
	return nil
}

func (e *screenEncoder) Release() { e.Stop() }

// assembler groups NALs into access units and turns new SPS/PPS pairs into
// format-change outputs ahead of the data that uses them.
type assembler struct {
	sps, pps         []byte
	sentSPS, sentPPS []byte
	au               []byte
}

// push takes one NAL without start code.
func (a *assembler) push(nal []byte, pts int64) []*types.EncoderOutput {
	typ := h264.NALType(nal)
	if h264.IsParameterSet(nal) {
		if typ == h264.NALSPS {
			a.sps = bytes.Clone(nal)
		} else {
			a.pps = bytes.Clone(nal)
		}
		return nil
	}

	var outs []*types.EncoderOutput
	if a.sps != nil && a.pps != nil && (!bytes.Equal(a.sps, a.sentSPS) || !bytes.Equal(a.pps, a.sentPPS)) {
		outs = append(outs, &types.EncoderOutput{
			FormatChanged: true,
			ParameterSets: [][]byte{h264.AnnexB(a.sps), h264.AnnexB(a.pps)},
		})
		a.sentSPS, a.sentPPS = a.sps, a.pps
	}
	a.au = append(a.au, h264.AnnexB(nal)...)
	if typ == h264.NALSlice || typ == h264.NALIDR {
		outs = append(outs, &types.EncoderOutput{Unit: types.EncodedUnit{PTS: pts, Payload: a.au}})
		a.au = nil
	}
	return outs
}
