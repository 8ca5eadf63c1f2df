package mdl

import (
	"errors"
	"fmt"

	"github.com/vigilem/md5model/pkg/formats"
)

// ErrFrameData is returned when a frame's component stream cannot supply the
// channels its hierarchy declares.
var ErrFrameData = errors.New("bad frame data")

// frameCursor reads one joint's channel values from a frame's flat float
// stream. It starts at the joint's start index and moves forward one value
// per set channel flag.
type frameCursor struct {
	stream []float32
	pos    int
}

func (c *frameCursor) next() (float32, error) {
	if c.pos < 0 || c.pos >= len(c.stream) {
		return 0, fmt.Errorf("%w: component %d of %d", ErrFrameData, c.pos, len(c.stream))
	}
	v := c.stream[c.pos]
	c.pos++
	return v, nil
}

// BuildFrame decodes one frame into out. Each joint starts from its
// baseframe transform, overrides the channels flagged in the hierarchy with
// values from the component stream, recovers the quaternion scalar, and is
// then composed onto its parent. Parents are composed before their children,
// which the ascending joint order guarantees.
func BuildFrame(hier []formats.HierarchyJoint, base []formats.BaseJoint, components []float32, out Skeleton) error {
	if len(base) != len(hier) || len(out) != len(hier) {
		return fmt.Errorf("%w: %d hierarchy, %d baseframe, %d output joints", ErrFrameData, len(hier), len(base), len(out))
	}

	for i := range hier {
		h := &hier[i]
		pos := base[i].Position
		orient := base[i].Orient

		cur := frameCursor{stream: components, pos: h.StartIndex}
		channels := []struct {
			flag uint8
			dst  *float32
		}{
			{formats.ChannelTX, &pos[0]},
			{formats.ChannelTY, &pos[1]},
			{formats.ChannelTZ, &pos[2]},
			{formats.ChannelQX, &orient[0]},
			{formats.ChannelQY, &orient[1]},
			{formats.ChannelQZ, &orient[2]},
		}
		for _, ch := range channels {
			if h.Flags&ch.flag == 0 {
				continue
			}
			v, err := cur.next()
			if err != nil {
				return fmt.Errorf("joint %d %q: %w", i, h.Name, err)
			}
			*ch.dst = v
		}

		q := formats.UnitQuat(orient)
		out[i].Name = h.Name
		out[i].Parent = h.Parent

		if h.Parent == NullJoint {
			out[i].Position = pos
			out[i].Orient = q
			continue
		}
		if h.Parent < 0 || h.Parent >= i {
			return fmt.Errorf("%w: joint %d %q names parent %d", formats.ErrJointOrder, i, h.Name, h.Parent)
		}
		parent := &out[h.Parent]
		out[i].Position = parent.Orient.Rotate(pos).Add(parent.Position)
		out[i].Orient = parent.Orient.Mul(q).Normalize()
	}
	return nil
}

// BuildSequence expands a parsed animation document into a sequence of
// ready-to-pose skeletons.
func BuildSequence(doc *formats.AnimFile, name string) (*Sequence, error) {
	seq := NewSequence(name, doc.FrameRate)
	seq.SetFrameCount(doc.NumFrames())
	seq.SetJointCount(doc.NumJoints())

	for i, components := range doc.Frames {
		joints, err := seq.Frame(i)
		if err != nil {
			return nil, err
		}
		if err := BuildFrame(doc.Hierarchy, doc.BaseFrame, components, joints); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if err := seq.SetBounds(i, Bounds(doc.Bounds[i])); err != nil {
			return nil, err
		}
	}
	return seq, nil
}
