package download

import (
	"strings"
	"testing"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line string
		pct  float64
		ok   bool
	}{
		{"[download]  42.7% of 10.00MiB at 1.00MiB/s ETA 00:05", 42.7, true},
		{"[download] 100% of 10.00MiB in 00:10", 100, true},
		{"[download]   0.0% of ~5.00MiB", 0, true},
		{"[info] Downloading format 137", 0, false},
		{"[download] Destination: download/video.mp4", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		pct, ok := ParseProgressLine(tt.line)
		if ok != tt.ok || pct != tt.pct {
			t.Errorf("ParseProgressLine(%q) = %g,%v want %g,%v", tt.line, pct, ok, tt.pct, tt.ok)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"normal.mp4", "normal.mp4"},
		{"../../etc/passwd", "passwd"},
		{`a<b>c:d"e/f\g|h?i*j.mp4`, "a_b_c_d_e_f_g_h_i_j.mp4"},
		{"  .dotted.  ", "dotted"},
		{"", "download"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilenameBoundsLength(t *testing.T) {
	long := strings.Repeat("x", 300) + ".mp4"
	got := SanitizeFilename(long)
	if len(got) > 200 {
		t.Errorf("length = %d, want <= 200", len(got))
	}
	if !strings.HasSuffix(got, ".mp4") {
		t.Errorf("extension lost: %q", got)
	}
}

func TestFormatAttempts(t *testing.T) {
	d := &Driver{}

	video := d.formatAttempts(Request{FormatKind: FormatVideo})
	if len(video) != 2 || !strings.Contains(video[0], "mp4") {
		t.Errorf("video fallbacks = %v", video)
	}

	audio := d.formatAttempts(Request{FormatKind: FormatAudio})
	if len(audio) != 1 || audio[0] != "bestaudio/best" {
		t.Errorf("audio formats = %v", audio)
	}

	explicit := d.formatAttempts(Request{FormatKind: FormatVideo, FormatID: "137"})
	if explicit[0] != "137+bestaudio/best" {
		t.Errorf("explicit format first attempt = %s", explicit[0])
	}
	if len(explicit) < 2 {
		t.Error("explicit format must keep fallbacks")
	}
}

func TestIsPlaylistURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://youtube.com/playlist?list=PLx", true},
		{"https://youtube.com/watch?v=abc&list=PLxyz", true},
		{"https://youtube.com/watch?v=abc&list=RDabc", true},
		{"https://youtube.com/watch?v=abc", false},
		{"https://example.com/video", false},
	}
	for _, tt := range tests {
		if got := IsPlaylistURL(tt.url); got != tt.want {
			t.Errorf("IsPlaylistURL(%s) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	transient := func() *types.PipelineError {
		return &types.PipelineError{Kind: types.KindDownloadFailed, Message: "boom", Transient: true}
	}

	err := classify("ERROR: Video unavailable", transient())
	if types.IsTransient(err) {
		t.Error("permanent marker should clear the transient flag")
	}

	err = classify("ERROR: connection reset by peer", transient())
	if !types.IsTransient(err) {
		t.Error("unknown failures stay transient")
	}
}
