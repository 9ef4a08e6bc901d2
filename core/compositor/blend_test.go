package compositor

import (
	"testing"

	"Pixmux/model"
)

func solidFrame(w, h int, r, g, b uint8) *model.Frame {
	f := model.NewFrame(w, h)
	f.Fill(r, g, b)
	return f
}

func TestBlendNormalFullOpacityReplaces(t *testing.T) {
	base := solidFrame(4, 3, 200, 10, 90)
	overlay := model.NewFrame(4, 3)
	for i := range overlay.Pix {
		overlay.Pix[i] = uint8(i * 7)
	}

	Blend(base, overlay, BlendNormal, 1)

	for i := range overlay.Pix {
		if base.Pix[i] != overlay.Pix[i] {
			t.Fatalf("byte %d = %d, want %d", i, base.Pix[i], overlay.Pix[i])
		}
	}
}

func TestBlendModes(t *testing.T) {
	tests := []struct {
		name    string
		mode    BlendMode
		base    uint8
		over    uint8
		opacity float64
		want    uint8
	}{
		{"normal half", BlendNormal, 0, 255, 0.5, 128},
		{"normal zero opacity", BlendNormal, 40, 255, 0, 40},
		{"multiply", BlendMultiply, 255, 128, 1, 128},
		{"multiply black", BlendMultiply, 200, 0, 1, 0},
		{"screen", BlendScreen, 0, 128, 1, 128},
		{"screen white", BlendScreen, 10, 255, 1, 255},
		{"add clamps", BlendAdd, 200, 100, 1, 255},
		{"add half", BlendAdd, 100, 100, 0.5, 150},
		{"subtract clamps", BlendSubtract, 50, 100, 1, 0},
		{"subtract", BlendSubtract, 200, 100, 1, 100},
		{"overlay dark multiplies", BlendOverlay, 128, 64, 1, 64},
		{"overlay bright screens", BlendOverlay, 0, 255, 1, 255},
		{"overlay bright doubles screen", BlendOverlay, 128, 192, 1, 192},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := solidFrame(1, 1, tt.base, tt.base, tt.base)
			over := solidFrame(1, 1, tt.over, tt.over, tt.over)
			Blend(base, over, tt.mode, tt.opacity)
			got := base.Pix[0]
			if diff := int(got) - int(tt.want); diff < -1 || diff > 1 {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBlendDifferentSizesUsesOverlap(t *testing.T) {
	base := solidFrame(3, 3, 0, 0, 0)
	over := solidFrame(2, 1, 255, 255, 255)

	Blend(base, over, BlendNormal, 1)

	if r, _, _ := base.At(1, 0); r != 255 {
		t.Errorf("overlap pixel = %d, want 255", r)
	}
	if r, _, _ := base.At(2, 0); r != 0 {
		t.Errorf("pixel outside overlay changed to %d", r)
	}
	if r, _, _ := base.At(0, 1); r != 0 {
		t.Errorf("row outside overlay changed to %d", r)
	}
}

func TestParseBlendMode(t *testing.T) {
	for _, name := range []string{"normal", "Multiply", " screen ", "overlay", "ADD", "subtract", ""} {
		if _, err := ParseBlendMode(name); err != nil {
			t.Errorf("ParseBlendMode(%q): %v", name, err)
		}
	}
	if _, err := ParseBlendMode("dodge"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if m, _ := ParseBlendMode("screen"); m != BlendScreen {
		t.Errorf("got %v, want screen", m)
	}
}
