package encoding

import "testing"

func TestDetectNulByteIsBinary(t *testing.T) {
	r := Detect([]byte{0x00, 0x01, 0x02})
	if !r.Binary {
		t.Fatalf("expected binary classification")
	}
}

func TestDetectValidUTF8(t *testing.T) {
	r := Detect([]byte("fn a() {}"))
	if r.Binary {
		t.Fatalf("expected text classification")
	}
	if r.Encoding != "UTF-8" {
		t.Fatalf("expected UTF-8, got %s", r.Encoding)
	}
	if r.Text != "fn a() {}" {
		t.Fatalf("unexpected text: %q", r.Text)
	}
}

func TestDetectUTF8BOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...)
	r := Detect(raw)
	if r.Binary || r.Text != string(raw) {
		t.Fatalf("expected valid UTF-8 passed through with its BOM, got %+v", r)
	}
}
