package resource

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rendercore/binding"
)

// cubeFaces is the layer count of a cube texture.
const cubeFaces = 6

// TextureDescriptor describes a 2D or cube texture.
type TextureDescriptor struct {
	Label  string
	Width  uint32
	Height uint32

	// Format defaults to RGBA8Unorm. Upload assumes 4 bytes per texel.
	Format gputypes.TextureFormat

	// Cube creates a six-layer cube texture.
	Cube bool

	// Storage adds storage binding usage; the texture is then bindable as a
	// storage image.
	Storage bool

	// Deferred postpones creation of the native objects until Create. The
	// handle stays invalid until then, and after every Resize.
	Deferred bool
}

// Texture is a sampled or storage texture with its default view.
type Texture struct {
	alloc    *Allocator
	label    string
	cube     bool
	store    bool
	deferred bool
	format   gputypes.TextureFormat

	mu        sync.RWMutex
	width     uint32
	height    uint32
	tex       hal.Texture
	view      hal.TextureView
	handle    binding.Handle
	destroyed bool
}

// NewTexture creates a texture. Unless desc.Deferred is set, its native
// objects exist when NewTexture returns.
func (a *Allocator) NewTexture(desc TextureDescriptor) (*Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: texture %q is %dx%d", ErrInvalidSize, desc.Label, desc.Width, desc.Height)
	}
	format := desc.Format
	if format == 0 {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	t := &Texture{
		alloc:    a,
		label:    desc.Label,
		cube:     desc.Cube,
		store:    desc.Storage,
		deferred: desc.Deferred,
		format:   format,
		width:    desc.Width,
		height:   desc.Height,
	}
	if desc.Deferred {
		return t, nil
	}
	if err := t.Create(); err != nil {
		return nil, err
	}
	return t, nil
}

// Label returns the debug label.
func (t *Texture) Label() string { return t.label }

// Size returns the current dimensions.
func (t *Texture) Size() (width, height uint32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.width, t.height
}

// Kind implements binding.Resource.
func (t *Texture) Kind() binding.Kind {
	switch {
	case t.cube:
		return binding.KindTextureCube
	case t.store:
		return binding.KindImage2D
	default:
		return binding.KindTexture2D
	}
}

// Handle implements binding.Resource. It refers to the texture view; the
// slot is ignored.
func (t *Texture) Handle(int) binding.Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handle
}

// Ready reports whether the native objects exist.
func (t *Texture) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handle.Valid()
}

// View returns the hal texture view, or nil if not ready.
func (t *Texture) View() hal.TextureView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.view
}

// Create creates the native texture and view if they do not exist yet.
func (t *Texture) Create() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return fmt.Errorf("%w: texture %q", ErrDestroyed, t.label)
	}
	if t.tex != nil {
		return nil
	}
	return t.createLocked()
}

func (t *Texture) createLocked() error {
	layers := uint32(1)
	viewDim := gputypes.TextureViewDimension2D
	if t.cube {
		layers = cubeFaces
		viewDim = gputypes.TextureViewDimensionCube
	}
	usage := gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst
	if t.store {
		usage |= gputypes.TextureUsageStorageBinding
	}

	device := t.alloc.device
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         t.label,
		Size:          hal.Extent3D{Width: t.width, Height: t.height, DepthOrArrayLayers: layers},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        t.format,
		Usage:         usage,
	})
	if err != nil {
		return fmt.Errorf("resource: create texture %q: %w", t.label, err)
	}
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         t.label + "_view",
		Format:        t.format,
		Dimension:     viewDim,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		device.DestroyTexture(tex)
		return fmt.Errorf("resource: create texture view %q: %w", t.label, err)
	}
	t.tex, t.view = tex, view
	t.handle = binding.Handle{ID: nextID(), Native: nativeHandle(view)}
	return nil
}

// retireLocked hands the current native objects to the Freer.
func (t *Texture) retireLocked() {
	tex, view := t.tex, t.view
	t.tex, t.view = nil, nil
	t.handle = binding.Handle{}
	if tex == nil {
		return
	}
	device := t.alloc.device
	t.alloc.freer.SubmitResourceFree(func() {
		device.DestroyTextureView(view)
		device.DestroyTexture(tex)
	})
}

// Resize recreates the texture at the new dimensions, which changes its
// handle. A deferred texture stays not ready until Create. Resizing to the
// current size is a no-op.
func (t *Texture) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: texture %q resized to %dx%d", ErrInvalidSize, t.label, width, height)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return fmt.Errorf("%w: texture %q", ErrDestroyed, t.label)
	}
	if width == t.width && height == t.height {
		return nil
	}
	t.retireLocked()
	t.width, t.height = width, height
	if t.deferred {
		return nil
	}
	return t.createLocked()
}

// Upload writes texel data covering the whole texture: width*height*4
// bytes per layer, six layers for a cube.
func (t *Texture) Upload(data []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tex == nil {
		return fmt.Errorf("%w: texture %q", ErrNotReady, t.label)
	}
	layers := uint32(1)
	if t.cube {
		layers = cubeFaces
	}
	want := uint64(t.width) * uint64(t.height) * 4 * uint64(layers)
	if uint64(len(data)) != want {
		return fmt.Errorf("resource: texture %q upload is %d bytes, want %d", t.label, len(data), want)
	}
	err := t.alloc.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  t.width * 4,
			RowsPerImage: t.height,
		},
		&hal.Extent3D{Width: t.width, Height: t.height, DepthOrArrayLayers: layers},
	)
	if err != nil {
		return fmt.Errorf("resource: upload texture %q: %w", t.label, err)
	}
	return nil
}

// Destroy hands the native objects to the Freer. Further Create and Resize
// calls fail.
func (t *Texture) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.retireLocked()
}
