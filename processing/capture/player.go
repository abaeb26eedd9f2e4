package capture

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
)

const DefaultTick = 30 * time.Millisecond

type FrameReader interface {
	Read() (image.Image, error)
}

// Player is the display loop: on every tick it reads one frame, scales it to
// the display size and hands it to the sink. A failed read ends the loop.
type Player struct {
	src    FrameReader
	sink   func(image.Image)
	tick   time.Duration
	width  int
	height int

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}

	started atomic.Bool
	frames  atomic.Uint64
	err     error
}

func NewPlayer(src FrameReader, tick time.Duration, width, height int, sink func(image.Image)) *Player {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Player{
		src:      src,
		sink:     sink,
		tick:     tick,
		width:    width,
		height:   height,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *Player) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}
	go p.run(ctx)
}

func (p *Player) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			frame, err := p.src.Read()
			if err != nil {
				select {
				case <-p.stopChan:
				default:
					p.err = err
				}
				return
			}
			if frame == nil {
				continue
			}

			if p.width > 0 && p.height > 0 {
				frame = imaging.Resize(frame, p.width, p.height, imaging.Linear)
			}

			p.frames.Add(1)
			p.sink(frame)
		}
	}
}

// Stop ends the loop and waits for it to exit. Safe to call more than once.
func (p *Player) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	if p.started.Load() {
		<-p.done
	}
}

func (p *Player) Done() <-chan struct{} { return p.done }

// Err waits for the loop to end and returns the read error that ended it.
// It returns nil at once for a player that was never started.
func (p *Player) Err() error {
	if !p.started.Load() {
		return nil
	}
	<-p.done
	return p.err
}

func (p *Player) Frames() uint64 { return p.frames.Load() }
