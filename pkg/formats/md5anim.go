package formats

import (
	"fmt"
	"math/bits"
	"os"

	"github.com/go-gl/mathgl/mgl32"
)

// Channel flags mark which of the six joint components a frame animates.
// Set bits are read from the frame float stream in this exact order,
// starting at the joint's start index.
const (
	ChannelTX uint8 = 1 << iota
	ChannelTY
	ChannelTZ
	ChannelQX
	ChannelQY
	ChannelQZ
)

// HierarchyJoint names one joint of an animation and how its frame data is
// encoded.
type HierarchyJoint struct {
	Name       string
	Parent     int   // index of the parent joint, -1 for a root
	Flags      uint8 // channel flags, bits 0..5
	StartIndex int   // first component of this joint in each frame
}

// FrameBounds is the axis-aligned bounding box of one frame.
type FrameBounds struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// BaseJoint is the parent-relative default transform a frame starts from.
// The orientation keeps only the vector part; W is recovered after channel
// overrides are applied.
type BaseJoint struct {
	Position mgl32.Vec3
	Orient   mgl32.Vec3
}

// AnimFile is a parsed .md5anim document. Frames holds one flat float slice
// per frame, each exactly Components long.
type AnimFile struct {
	Version     int
	Commandline string
	FrameRate   int
	Components  int
	Hierarchy   []HierarchyJoint
	Bounds      []FrameBounds
	BaseFrame   []BaseJoint
	Frames      [][]float32
}

// NumFrames returns the frame count.
func (a *AnimFile) NumFrames() int { return len(a.Frames) }

// NumJoints returns the joint count.
func (a *AnimFile) NumJoints() int { return len(a.Hierarchy) }

// FrameDuration returns the length of one frame in seconds.
func (a *AnimFile) FrameDuration() float32 { return 1.0 / float32(a.FrameRate) }

// Duration returns the total sequence length in seconds.
func (a *AnimFile) Duration() float32 {
	return float32(len(a.Frames)) / float32(a.FrameRate)
}

// ParseAnim parses .md5anim data from a byte slice.
func ParseAnim(data []byte) (*AnimFile, error) {
	toks, err := tokenize(data)
	if err != nil {
		return nil, err
	}
	r := &tokenReader{toks: toks}

	doc := &AnimFile{FrameRate: -1, Components: -1}
	if err := r.keyword("MD5Version"); err != nil {
		return nil, err
	}
	doc.Version, err = r.integer()
	if err != nil {
		return nil, err
	}
	if doc.Version != MD5Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	numFrames, numJoints := -1, -1
	var framesSeen int
	for !r.atEOF() {
		tok := r.next()
		if tok.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected directive, got %s at line %d", ErrSyntax, tok, tok.line)
		}
		switch tok.text {
		case "commandline":
			doc.Commandline, err = r.quoted()
		case "numFrames":
			numFrames, err = r.count("numFrames", maxFrameCount)
		case "numJoints":
			numJoints, err = r.count("numJoints", maxJointCount)
		case "frameRate":
			doc.FrameRate, err = r.count("frameRate", 1000)
			if err == nil && doc.FrameRate == 0 {
				return nil, fmt.Errorf("%w: frameRate 0 at line %d", ErrRange, tok.line)
			}
		case "numAnimatedComponents":
			doc.Components, err = r.count("numAnimatedComponents", maxComponentCount)
		case "hierarchy":
			if numJoints < 0 {
				return nil, fmt.Errorf("%w: hierarchy before numJoints at line %d", ErrCountUndeclared, tok.line)
			}
			if doc.Components < 0 {
				return nil, fmt.Errorf("%w: hierarchy before numAnimatedComponents at line %d", ErrCountUndeclared, tok.line)
			}
			doc.Hierarchy, err = parseHierarchy(r, numJoints, doc.Components)
		case "bounds":
			if numFrames < 0 {
				return nil, fmt.Errorf("%w: bounds before numFrames at line %d", ErrCountUndeclared, tok.line)
			}
			doc.Bounds, err = parseBounds(r, numFrames)
		case "baseframe":
			if numJoints < 0 {
				return nil, fmt.Errorf("%w: baseframe before numJoints at line %d", ErrCountUndeclared, tok.line)
			}
			doc.BaseFrame, err = parseBaseFrame(r, numJoints)
		case "frame":
			if numFrames < 0 {
				return nil, fmt.Errorf("%w: frame before numFrames at line %d", ErrCountUndeclared, tok.line)
			}
			if doc.Components < 0 {
				return nil, fmt.Errorf("%w: frame before numAnimatedComponents at line %d", ErrCountUndeclared, tok.line)
			}
			if doc.Frames == nil {
				doc.Frames = make([][]float32, numFrames)
			}
			err = parseFrame(r, doc.Frames, doc.Components, &framesSeen)
		default:
			return nil, fmt.Errorf("%w: unknown directive %q at line %d", ErrSyntax, tok.text, tok.line)
		}
		if err != nil {
			return nil, err
		}
	}

	if numJoints < 0 || doc.Hierarchy == nil {
		return nil, fmt.Errorf("%w: missing hierarchy section", ErrCountMismatch)
	}
	if doc.BaseFrame == nil {
		return nil, fmt.Errorf("%w: missing baseframe section", ErrCountMismatch)
	}
	if numFrames < 0 || doc.Bounds == nil {
		return nil, fmt.Errorf("%w: missing bounds section", ErrCountMismatch)
	}
	if doc.FrameRate < 0 {
		return nil, fmt.Errorf("%w: missing frameRate", ErrCountMismatch)
	}
	if doc.Frames == nil {
		doc.Frames = make([][]float32, numFrames)
	}
	if framesSeen != numFrames {
		return nil, fmt.Errorf("%w: declared %d frames, found %d", ErrCountMismatch, numFrames, framesSeen)
	}
	return doc, nil
}

// parseHierarchy parses the hierarchy section. Parents must precede their
// children, and every joint's channel span must fit the component stream.
func parseHierarchy(r *tokenReader, count, components int) ([]HierarchyJoint, error) {
	if _, err := r.expect(tokLBrace, `"{"`); err != nil {
		return nil, err
	}
	joints := make([]HierarchyJoint, 0, count)
	for i := 0; i < count; i++ {
		name, err := r.quoted()
		if err != nil {
			return nil, fmt.Errorf("hierarchy joint %d: %w", i, err)
		}
		parent, err := r.integer()
		if err != nil {
			return nil, fmt.Errorf("hierarchy joint %d: %w", i, err)
		}
		if parent < -1 {
			return nil, fmt.Errorf("%w: joint %q parent %d", ErrRange, name, parent)
		}
		if parent >= i {
			return nil, fmt.Errorf("%w: joint %d %q names parent %d", ErrJointOrder, i, name, parent)
		}
		flags, err := r.integer()
		if err != nil {
			return nil, fmt.Errorf("hierarchy joint %d: %w", i, err)
		}
		if flags < 0 || flags > 63 {
			return nil, fmt.Errorf("%w: joint %q flags %d", ErrRange, name, flags)
		}
		start, err := r.integer()
		if err != nil {
			return nil, fmt.Errorf("hierarchy joint %d: %w", i, err)
		}
		if start < 0 || start+bits.OnesCount8(uint8(flags)) > components {
			return nil, fmt.Errorf("%w: joint %q start index %d", ErrRange, name, start)
		}
		joints = append(joints, HierarchyJoint{
			Name:       name,
			Parent:     parent,
			Flags:      uint8(flags),
			StartIndex: start,
		})
	}
	if _, err := r.expect(tokRBrace, `"}"`); err != nil {
		return nil, err
	}
	return joints, nil
}

// parseBounds parses the bounds section, one AABB per frame.
func parseBounds(r *tokenReader, count int) ([]FrameBounds, error) {
	if _, err := r.expect(tokLBrace, `"{"`); err != nil {
		return nil, err
	}
	bounds := make([]FrameBounds, 0, count)
	for i := 0; i < count; i++ {
		min, err := r.vec3()
		if err != nil {
			return nil, fmt.Errorf("bounds %d: %w", i, err)
		}
		max, err := r.vec3()
		if err != nil {
			return nil, fmt.Errorf("bounds %d: %w", i, err)
		}
		bounds = append(bounds, FrameBounds{Min: min, Max: max})
	}
	if _, err := r.expect(tokRBrace, `"}"`); err != nil {
		return nil, err
	}
	return bounds, nil
}

// parseBaseFrame parses the baseframe section.
func parseBaseFrame(r *tokenReader, count int) ([]BaseJoint, error) {
	if _, err := r.expect(tokLBrace, `"{"`); err != nil {
		return nil, err
	}
	base := make([]BaseJoint, 0, count)
	for i := 0; i < count; i++ {
		pos, err := r.vec3()
		if err != nil {
			return nil, fmt.Errorf("baseframe joint %d: %w", i, err)
		}
		orient, err := r.vec3()
		if err != nil {
			return nil, fmt.Errorf("baseframe joint %d: %w", i, err)
		}
		base = append(base, BaseJoint{Position: pos, Orient: orient})
	}
	if _, err := r.expect(tokRBrace, `"}"`); err != nil {
		return nil, err
	}
	return base, nil
}

// parseFrame parses one "frame N { ... }" block into its slot.
func parseFrame(r *tokenReader, frames [][]float32, components int, seen *int) error {
	tok := r.peek()
	idx, err := r.integer()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(frames) {
		return fmt.Errorf("%w: frame index %d at line %d", ErrRange, idx, tok.line)
	}
	if frames[idx] != nil {
		return fmt.Errorf("%w: duplicate frame %d at line %d", ErrSyntax, idx, tok.line)
	}
	if _, err := r.expect(tokLBrace, `"{"`); err != nil {
		return err
	}
	values := make([]float32, 0, components)
	for r.peek().kind == tokNumber {
		f, err := r.float()
		if err != nil {
			return err
		}
		values = append(values, f)
	}
	if _, err := r.expect(tokRBrace, `"}"`); err != nil {
		return err
	}
	if len(values) != components {
		return fmt.Errorf("%w: frame %d has %d components, declared %d", ErrCountMismatch, idx, len(values), components)
	}
	frames[idx] = values
	*seen++
	return nil
}

// ParseAnimFile parses a .md5anim file from disk.
func ParseAnimFile(path string) (*AnimFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading md5anim file: %w", err)
	}
	return ParseAnim(data)
}
