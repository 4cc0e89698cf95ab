package transform

import (
	"fmt"

	"github.com/wxt2005/image-command-bot-go/model"
)

// Registry maps command names to transforms. It is filled once at startup
// and only read afterwards.
type Registry struct {
	funcs  map[string]Func
	names  []string
	layout model.Keyboard
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds name. Registering a name twice is a wiring bug and panics.
func (r *Registry) Register(name string, fn Func) {
	if fn == nil {
		panic(fmt.Sprintf("transform: nil func for %q", name))
	}
	if _, ok := r.funcs[name]; ok {
		panic(fmt.Sprintf("transform: %q registered twice", name))
	}
	r.funcs[name] = fn
	r.names = append(r.names, name)
}

func (r *Registry) Resolve(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns command names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// SetLayout fixes the keyboard grid. All names must be registered.
func (r *Registry) SetLayout(rows [][]string) {
	layout := make(model.Keyboard, 0, len(rows))
	for _, row := range rows {
		for _, name := range row {
			if _, ok := r.funcs[name]; !ok {
				panic(fmt.Sprintf("transform: layout names unknown command %q", name))
			}
		}
		layout = append(layout, append([]string(nil), row...))
	}
	r.layout = layout
}

// Keyboard returns the button grid, one button per row in registration
// order when no layout was set.
func (r *Registry) Keyboard() model.Keyboard {
	if r.layout == nil {
		kb := make(model.Keyboard, 0, len(r.names))
		for _, name := range r.names {
			kb = append(kb, []string{name})
		}
		return kb
	}

	kb := make(model.Keyboard, len(r.layout))
	for i, row := range r.layout {
		kb[i] = append([]string(nil), row...)
	}
	return kb
}

// Default returns the registry with the bot's command set.
func Default() *Registry {
	r := NewRegistry()

	r.Register("invert", Invert)
	r.Register("gray", Gray)
	r.Register("invert_gray", InvertGray)
	r.Register("get_image_info", ImageInfo)
	r.Register("pixelate", PixelateDefault)
	r.Register("pixelate16", Bind(Pixelate, 16))
	r.Register("pixelate32", Bind(Pixelate, 32))
	r.Register("pixelate48", Bind(Pixelate, 48))
	r.Register("jackal_jpg", JackalJPG)
	r.Register("thumbnail32", Bind(Thumbnail, Size{32, 32}))
	r.Register("thumbnail64", Bind(Thumbnail, Size{64, 64}))
	r.Register("thumbnail128", Bind(Thumbnail, Size{128, 128}))
	r.Register("blur", BlurDefault)
	r.Register("blur5", Bind(Blur, 5.0))
	r.Register("original", Original)

	r.SetLayout([][]string{
		{"invert", "gray", "invert_gray", "jackal_jpg"},
		{"pixelate", "pixelate16", "pixelate32", "pixelate48"},
		{"thumbnail32", "thumbnail64", "thumbnail128"},
		{"get_image_info", "blur", "blur5", "original"},
	})

	return r
}
