package camera

import "testing"

func TestClampROISortsAndClamps(t *testing.T) {
	max := [2]int{2048, 1024}
	roi, err := ClampROI([2]int{100, 10}, [2]int{-5, 4000}, max)
	if err != nil {
		t.Fatal(err)
	}
	if roi.X != [2]int{10, 100} {
		t.Errorf("expected X sorted to [10 100], got %v", roi.X)
	}
	if roi.Y != [2]int{0, 1024} {
		t.Errorf("expected Y clamped to [0 1024], got %v", roi.Y)
	}
	if sz := roi.Size(); sz != [2]int{90, 1024} {
		t.Errorf("expected size [90 1024], got %v", sz)
	}
}

func TestClampROIRejectsEmpty(t *testing.T) {
	_, err := ClampROI([2]int{5, 5}, [2]int{0, 10}, [2]int{64, 64})
	if err == nil {
		t.Error("expected an error for an empty X range")
	}
	_, err = ClampROI([2]int{0, 10}, [2]int{100, 200}, [2]int{64, 64})
	if err == nil {
		t.Error("expected an error for a Y range entirely off the sensor")
	}
}

func TestROIToAOI(t *testing.T) {
	aoi := ROI{X: [2]int{4, 20}, Y: [2]int{8, 40}}.AOI()
	expected := AOI{Left: 4, Top: 8, Width: 16, Height: 32}
	if aoi != expected {
		t.Errorf("expected %+v got %+v", expected, aoi)
	}
}
