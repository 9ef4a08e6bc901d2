package repository

import (
	"testing"

	"Pixmux/model"
)

func TestOrderByNames(t *testing.T) {
	a := &model.Clip{Name: "a"}
	b := &model.Clip{Name: "b"}
	c := &model.Clip{Name: "c"}

	got := OrderByNames([]*model.Clip{a, b, c}, []string{"c", "missing", "a", "c"})
	if len(got) != 3 || got[0] != c || got[1] != a || got[2] != c {
		names := make([]string, len(got))
		for i, clip := range got {
			names[i] = clip.Name
		}
		t.Errorf("order = %v", names)
	}
	if got := OrderByNames(nil, []string{"a"}); len(got) != 0 {
		t.Errorf("empty library returned %d clips", len(got))
	}
}
