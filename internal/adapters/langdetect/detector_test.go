package langdetect

import "testing"

func TestDetect(t *testing.T) {
	d := New()

	if lang, ok := d.Detect("The staff were friendly and the treatment was excellent, I would come back again."); !ok || lang != "en" {
		t.Fatalf("english: got %q %v", lang, ok)
	}
	if lang, ok := d.Detect("Das Personal war sehr freundlich und die Behandlung war hervorragend, ich komme gerne wieder."); !ok || lang != "de" {
		t.Fatalf("german: got %q %v", lang, ok)
	}
	// short reviews get a low confidence score but are still English
	for _, s := range []string{"Great clinic!", "Excellent doctor, highly recommend.", "Thank you for your review."} {
		if lang, ok := d.Detect(s); !ok || lang != "en" {
			t.Fatalf("%q: got %q %v", s, lang, ok)
		}
	}
	for _, s := range []string{"", "   ", "ok", "👍👍"} {
		if _, ok := d.Detect(s); ok {
			t.Fatalf("%q should be undetected", s)
		}
	}
}
