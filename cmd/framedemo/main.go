// Command framedemo drives the frame pipeline headlessly: it reflects a
// sprite shader, binds a per-frame camera buffer and a texture, and resizes
// the texture halfway through so the registry has to rewrite its sets.
package main

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/gogpu/rendercore"
	"github.com/gogpu/rendercore/backend"
	"github.com/gogpu/rendercore/backend/native"
	"github.com/gogpu/rendercore/binding"
	"github.com/gogpu/rendercore/resource"
	"github.com/gogpu/rendercore/shader"
)

//go:embed sprite.wgsl
var spriteSource string

func main() {
	var (
		frames  = flag.Int("frames", 120, "number of frames to render")
		slots   = flag.Int("inflight", rendercore.DefaultFramesInFlight, "frames in flight")
		single  = flag.Bool("single", false, "run frames inline on the calling goroutine")
		gpu     = flag.Bool("gpu", false, "open a hardware adapter instead of the noop device")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *frames, *slots, *single, *gpu); err != nil {
		logger.Error("framedemo failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, frames, slots int, single, gpu bool) error {
	policy := rendercore.MultiThreaded
	if single {
		policy = rendercore.SingleThreaded
	}
	opts := []rendercore.Option{
		rendercore.WithLogger(logger),
		rendercore.WithFramesInFlight(slots),
		rendercore.WithThreadingPolicy(policy),
	}
	if gpu {
		opts = append(opts, rendercore.WithBackend(backend.BackendNative))
	} else {
		headless := native.NewHeadless()
		defer headless.Close()
		opts = append(opts, rendercore.WithBackendInstance(headless))
	}

	r, err := rendercore.New(opts...)
	if err != nil {
		return err
	}
	r.Run()

	var (
		camera *resource.BufferSet
		albedo *resource.Texture
	)
	fail := func(err error) error {
		if camera != nil {
			camera.Destroy()
		}
		if albedo != nil {
			albedo.Destroy()
		}
		_ = r.Shutdown()
		return err
	}

	inputs, err := loadInputs(logger)
	if err != nil {
		return fail(err)
	}
	alloc := r.Resources()
	if alloc == nil {
		return fail(errors.New("backend has no GPU device"))
	}
	if camera, err = alloc.NewBufferSet(resource.BufferDescriptor{Label: "camera", Size: 64}, r.FramesInFlight()); err != nil {
		return fail(err)
	}
	if albedo, err = alloc.NewTexture(resource.TextureDescriptor{Label: "albedo", Width: 64, Height: 64}); err != nil {
		return fail(err)
	}

	reg, err := r.NewRegistry(binding.Spec{Name: "sprite", Inputs: inputs})
	if err != nil {
		return fail(err)
	}
	reg.SetInput("camera", camera)
	reg.SetInput("albedo", albedo)
	if err := reg.Validate(); err != nil {
		return fail(err)
	}
	r.SubmitErr(reg.Bake)

	start := time.Now()
	var draws atomic.Int64
	for frame := range frames {
		// Logic thread: update this frame's camera.
		if err := camera.Write(r.LogicFrameIndex(), 0, viewProj(frame)); err != nil {
			return fail(err)
		}
		if frame == frames/2 {
			if err := albedo.Resize(128, 128); err != nil {
				return fail(err)
			}
			logger.Info("albedo resized", "frame", r.LogicFrame())
		}

		// Render thread: refresh bindings, then draw with the current sets.
		r.SubmitErr(reg.Prepare)
		r.Submit(func() {
			if reg.Usable(0) && reg.Usable(1) && len(reg.CurrentDescriptorSets()) == 2 {
				draws.Add(1)
			}
		})

		if err := r.Pump(); err != nil {
			return fail(err)
		}
	}
	if err := r.BlockUntilRenderComplete(); err != nil {
		return fail(err)
	}

	stats := reg.Stats()
	camera.Destroy()
	albedo.Destroy()
	if err := r.Shutdown(); err != nil {
		return err
	}
	logger.Info("framedemo done",
		"frames", frames,
		"draws", draws.Load(),
		"elapsed", time.Since(start),
		"bakes", stats.Bakes,
		"rewrites", stats.Rewrites,
		"flushes", stats.Flushes,
	)
	return nil
}

// loadInputs compiles the sprite shader. A build of naga that cannot
// compile it still yields the reflected inputs.
func loadInputs(logger *slog.Logger) ([]binding.InputDeclaration, error) {
	m, err := shader.NewCache(0).Load("sprite", spriteSource)
	if err == nil {
		logger.Debug("shader compiled", "words", len(m.SPIRV), "sets", m.Sets())
		return m.Inputs, nil
	}
	if !errors.Is(err, shader.ErrCompile) {
		return nil, err
	}
	logger.Warn("shader compilation failed, using reflection only", "err", err)
	inputs, err := shader.Parse(spriteSource)
	if err != nil {
		return nil, fmt.Errorf("reflect sprite shader: %w", err)
	}
	return inputs, nil
}

// viewProj returns a column-major translation matrix that drifts with the
// frame number.
func viewProj(frame int) []byte {
	m := [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		float32(frame%100) / 100, 0, 0, 1,
	}
	out := make([]byte, 0, 64)
	for _, f := range m {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}
