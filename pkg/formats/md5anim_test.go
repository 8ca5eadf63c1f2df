package formats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestParseAnim_Valid(t *testing.T) {
	doc, err := ParseAnim([]byte(wiggleAnimDoc))
	if err != nil {
		t.Fatalf("ParseAnim failed: %v", err)
	}

	if doc.Version != 10 {
		t.Errorf("Version = %d, want 10", doc.Version)
	}
	if doc.FrameRate != 24 {
		t.Errorf("FrameRate = %d, want 24", doc.FrameRate)
	}
	if doc.Components != 12 {
		t.Errorf("Components = %d, want 12", doc.Components)
	}
	if doc.NumFrames() != 2 || doc.NumJoints() != 2 {
		t.Fatalf("got %d frames, %d joints, want 2/2", doc.NumFrames(), doc.NumJoints())
	}

	spine := doc.Hierarchy[1]
	if spine.Name != "spine" || spine.Parent != 0 {
		t.Errorf("Hierarchy[1] = %q parent %d", spine.Name, spine.Parent)
	}
	if spine.Flags != 63 || spine.StartIndex != 6 {
		t.Errorf("Hierarchy[1] flags %d start %d, want 63/6", spine.Flags, spine.StartIndex)
	}

	if doc.Bounds[1].Max != (mgl32.Vec3{2, 2, 2}) {
		t.Errorf("Bounds[1].Max = %v", doc.Bounds[1].Max)
	}
	if doc.BaseFrame[1].Position != (mgl32.Vec3{0, 0, 10}) {
		t.Errorf("BaseFrame[1].Position = %v", doc.BaseFrame[1].Position)
	}

	if len(doc.Frames[0]) != 12 || len(doc.Frames[1]) != 12 {
		t.Fatalf("frame lengths = %d/%d, want 12/12", len(doc.Frames[0]), len(doc.Frames[1]))
	}
	if doc.Frames[1][2] != 1 {
		t.Errorf("Frames[1][2] = %f, want 1", doc.Frames[1][2])
	}
	if !mgl32.FloatEqualThreshold(doc.Frames[1][5], 0.7071068, 1e-5) {
		t.Errorf("Frames[1][5] = %f", doc.Frames[1][5])
	}

	if !mgl32.FloatEqualThreshold(doc.FrameDuration(), 1.0/24, 1e-6) {
		t.Errorf("FrameDuration() = %f", doc.FrameDuration())
	}
	if !mgl32.FloatEqualThreshold(doc.Duration(), 2.0/24, 1e-6) {
		t.Errorf("Duration() = %f", doc.Duration())
	}
}

func TestParseAnim_Version(t *testing.T) {
	_, err := ParseAnim([]byte("MD5Version 6\nnumFrames 0\n"))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestParseAnim_SectionOrdering(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "hierarchy before numJoints",
			doc:  "MD5Version 10\nnumAnimatedComponents 0\nhierarchy {\n}\n",
		},
		{
			name: "hierarchy before numAnimatedComponents",
			doc:  "MD5Version 10\nnumJoints 0\nhierarchy {\n}\n",
		},
		{
			name: "bounds before numFrames",
			doc:  "MD5Version 10\nbounds {\n}\n",
		},
		{
			name: "baseframe before numJoints",
			doc:  "MD5Version 10\nbaseframe {\n}\n",
		},
		{
			name: "frame before numFrames",
			doc:  "MD5Version 10\nnumAnimatedComponents 0\nframe 0 {\n}\n",
		},
		{
			name: "frame before numAnimatedComponents",
			doc:  "MD5Version 10\nnumFrames 1\nframe 0 {\n}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnim([]byte(tt.doc))
			if !errors.Is(err, ErrCountUndeclared) {
				t.Errorf("got %v, want ErrCountUndeclared", err)
			}
		})
	}
}

func TestParseAnim_HierarchyValidation(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		wantErr error
	}{
		{
			name:    "forward parent",
			entry:   "\t\"origin\" 0 0 0\n",
			wantErr: ErrJointOrder,
		},
		{
			name:    "flags above 63",
			entry:   "\t\"origin\" -1 64 0\n",
			wantErr: ErrRange,
		},
		{
			name:    "negative start index",
			entry:   "\t\"origin\" -1 63 -1\n",
			wantErr: ErrRange,
		},
		{
			name:    "channel span past components",
			entry:   "\t\"origin\" -1 63 1\n",
			wantErr: ErrRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "MD5Version 10\nnumFrames 0\nnumJoints 1\nframeRate 24\nnumAnimatedComponents 6\n" +
				"hierarchy {\n" + tt.entry + "}\nbounds {\n}\nbaseframe {\n\t( 0 0 0 ) ( 0 0 0 )\n}\n"
			_, err := ParseAnim([]byte(doc))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseAnim_FrameValidation(t *testing.T) {
	tests := []struct {
		name    string
		frames  string
		wantErr error
	}{
		{
			name:    "frame index out of range",
			frames:  "frame 0 {\n\t0 0 0 0 0 0\n}\nframe 2 {\n\t0 0 0 0 0 0\n}\n",
			wantErr: ErrRange,
		},
		{
			name:    "duplicate frame",
			frames:  "frame 0 {\n\t0 0 0 0 0 0\n}\nframe 0 {\n\t0 0 0 0 0 0\n}\n",
			wantErr: ErrSyntax,
		},
		{
			name:    "short component stream",
			frames:  "frame 0 {\n\t0 0 0\n}\nframe 1 {\n\t0 0 0 0 0 0\n}\n",
			wantErr: ErrCountMismatch,
		},
		{
			name:    "long component stream",
			frames:  "frame 0 {\n\t0 0 0 0 0 0 0\n}\nframe 1 {\n\t0 0 0 0 0 0\n}\n",
			wantErr: ErrCountMismatch,
		},
		{
			name:    "missing frame",
			frames:  "frame 0 {\n\t0 0 0 0 0 0\n}\n",
			wantErr: ErrCountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "MD5Version 10\nnumFrames 2\nnumJoints 1\nframeRate 24\nnumAnimatedComponents 6\n" +
				"hierarchy {\n\t\"origin\" -1 63 0\n}\n" +
				"bounds {\n\t( 0 0 0 ) ( 0 0 0 )\n\t( 0 0 0 ) ( 0 0 0 )\n}\n" +
				"baseframe {\n\t( 0 0 0 ) ( 0 0 0 )\n}\n" + tt.frames
			_, err := ParseAnim([]byte(doc))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseAnim_MissingSections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "no hierarchy",
			doc:  "MD5Version 10\nnumFrames 0\nnumJoints 0\nframeRate 24\nnumAnimatedComponents 0\nbounds {\n}\nbaseframe {\n}\n",
		},
		{
			name: "no bounds",
			doc:  "MD5Version 10\nnumFrames 0\nnumJoints 0\nframeRate 24\nnumAnimatedComponents 0\nhierarchy {\n}\nbaseframe {\n}\n",
		},
		{
			name: "no baseframe",
			doc:  "MD5Version 10\nnumFrames 0\nnumJoints 0\nframeRate 24\nnumAnimatedComponents 0\nhierarchy {\n}\nbounds {\n}\n",
		},
		{
			name: "no frameRate",
			doc:  "MD5Version 10\nnumFrames 0\nnumJoints 0\nnumAnimatedComponents 0\nhierarchy {\n}\nbounds {\n}\nbaseframe {\n}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnim([]byte(tt.doc))
			if !errors.Is(err, ErrCountMismatch) {
				t.Errorf("got %v, want ErrCountMismatch", err)
			}
		})
	}
}

func TestParseAnim_ZeroFrameRate(t *testing.T) {
	doc := "MD5Version 10\nnumFrames 0\nnumJoints 0\nframeRate 0\nnumAnimatedComponents 0\n" +
		"hierarchy {\n}\nbounds {\n}\nbaseframe {\n}\n"
	_, err := ParseAnim([]byte(doc))
	if !errors.Is(err, ErrRange) {
		t.Errorf("got %v, want ErrRange", err)
	}
}

func TestParseAnim_StaticComponents(t *testing.T) {
	// A fully static animation carries no per-frame floats at all.
	doc := "MD5Version 10\nnumFrames 1\nnumJoints 1\nframeRate 30\nnumAnimatedComponents 0\n" +
		"hierarchy {\n\t\"origin\" -1 0 0\n}\n" +
		"bounds {\n\t( -1 -1 -1 ) ( 1 1 1 )\n}\n" +
		"baseframe {\n\t( 0 0 5 ) ( 0 0 0 )\n}\n" +
		"frame 0 {\n}\n"
	parsed, err := ParseAnim([]byte(doc))
	if err != nil {
		t.Fatalf("ParseAnim failed: %v", err)
	}
	if len(parsed.Frames[0]) != 0 {
		t.Errorf("frame 0 has %d components, want 0", len(parsed.Frames[0]))
	}
}

func TestParseAnimFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wiggle.md5anim")
	if err := os.WriteFile(path, []byte(wiggleAnimDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := ParseAnimFile(path)
	if err != nil {
		t.Fatalf("ParseAnimFile failed: %v", err)
	}
	if doc.NumFrames() != 2 {
		t.Errorf("NumFrames() = %d, want 2", doc.NumFrames())
	}

	if _, err := ParseAnimFile(filepath.Join(t.TempDir(), "missing.md5anim")); err == nil {
		t.Error("expected error for missing file")
	}
}

// Test document shared by the animation parser tests.

const wiggleAnimDoc = `MD5Version 10
commandline "anim models/test/wiggle.mb"

numFrames 2
numJoints 2
frameRate 24
numAnimatedComponents 12

hierarchy {
	"origin"	-1 63 0	//
	"spine"	0 63 6	// origin
}

bounds {
	( -1 -1 -1 ) ( 1 1 1 )
	( -2 -2 -2 ) ( 2 2 2 )
}

baseframe {
	( 0 0 0 ) ( 0 0 0 )
	( 0 0 10 ) ( 0 0 0 )
}

frame 0 {
	 0 0 0 0 0 0
	 0 0 10 0 0 0
}

frame 1 {
	 0 0 1 0 0 0.7071068
	 1 0 10 0 0 0
}
`
