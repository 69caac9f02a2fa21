package server

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"chunkstream/internal/config"
)

// observerPath scripts where the observer is after a given run time.
type observerPath interface {
	At(elapsed time.Duration) mgl64.Vec3
}

func newObserverPath(cfg config.ObserverConfig) (observerPath, error) {
	start := mgl64.Vec3{cfg.StartX, cfg.StartY, cfg.Height}
	switch cfg.Path {
	case "still", "":
		return stillPath{pos: start}, nil
	case "line":
		heading := mgl64.DegToRad(cfg.Heading)
		return linePath{
			start:    start,
			velocity: mgl64.Vec3{math.Cos(heading), math.Sin(heading), 0}.Mul(cfg.Speed),
		}, nil
	case "orbit":
		if cfg.Radius <= 0 {
			return nil, fmt.Errorf("orbit radius must be positive")
		}
		return orbitPath{center: start, radius: cfg.Radius, angular: cfg.Speed / cfg.Radius}, nil
	default:
		return nil, fmt.Errorf("unknown observer path %q", cfg.Path)
	}
}

type stillPath struct {
	pos mgl64.Vec3
}

func (p stillPath) At(time.Duration) mgl64.Vec3 {
	return p.pos
}

// linePath walks from start at a constant velocity in blocks per second.
type linePath struct {
	start    mgl64.Vec3
	velocity mgl64.Vec3
}

func (p linePath) At(elapsed time.Duration) mgl64.Vec3 {
	return p.start.Add(p.velocity.Mul(elapsed.Seconds()))
}

// orbitPath circles center counter-clockwise, starting on the +X side.
type orbitPath struct {
	center  mgl64.Vec3
	radius  float64
	angular float64 // radians per second
}

func (p orbitPath) At(elapsed time.Duration) mgl64.Vec3 {
	angle := p.angular * elapsed.Seconds()
	offset := mgl64.Vec3{math.Cos(angle), math.Sin(angle), 0}.Mul(p.radius)
	return p.center.Add(offset)
}
