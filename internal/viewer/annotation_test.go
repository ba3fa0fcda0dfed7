package viewer

import "testing"

// TestParseHexColor tests hex color parsing
func TestParseHexColor(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		c, err := ParseHexColor("#ff8800")
		if err != nil {
			t.Fatalf("ParseHexColor: %v", err)
		}
		if c.R != 0xff || c.G != 0x88 || c.B != 0x00 {
			t.Errorf("Parsed %+v", c)
		}
	})

	t.Run("HexRoundTrip", func(t *testing.T) {
		c := RGB{R: 0x12, G: 0xab, B: 0xef}
		parsed, err := ParseHexColor(c.Hex())
		if err != nil {
			t.Fatalf("ParseHexColor: %v", err)
		}
		if parsed != c {
			t.Errorf("Round trip changed color: %+v -> %+v", c, parsed)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, s := range []string{"", "#fff", "ff8800", "#gggggg", "#ff88001"} {
			if _, err := ParseHexColor(s); err == nil {
				t.Errorf("ParseHexColor(%q) should fail", s)
			}
		}
	})
}

// TestQuadBounds tests axis-aligned bounds extraction
func TestQuadBounds(t *testing.T) {
	q := Quad{40, 22, 64, 22, 64, 10, 40, 10}
	x, y, w, h := q.Bounds()
	if x != 40 || y != 10 || w != 24 || h != 12 {
		t.Errorf("Bounds = (%v, %v, %v, %v)", x, y, w, h)
	}
}
