package mdl

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vigilem/md5model/pkg/formats"
)

// NullJoint marks a joint without a parent.
const NullJoint = -1

// ErrIncompatibleSkeleton is returned when an animation's joint layout does
// not match the skeleton it is applied to.
var ErrIncompatibleSkeleton = errors.New("incompatible skeleton")

// Joint is one joint of a posed skeleton. Position and Orient are in model
// space; parent transforms are already composed in.
type Joint struct {
	Name     string
	Parent   int // index of the parent joint, NullJoint for a root
	Position mgl32.Vec3
	Orient   mgl32.Quat
}

// Skeleton is an ordered joint list. Parents always precede their children,
// so a single forward pass can compose world transforms.
type Skeleton []Joint

// SkeletonFromMesh builds the bind-pose skeleton of a parsed mesh document.
func SkeletonFromMesh(doc *formats.MeshFile) Skeleton {
	skel := make(Skeleton, len(doc.Joints))
	for i, j := range doc.Joints {
		skel[i] = Joint{
			Name:     j.Name,
			Parent:   j.Parent,
			Position: j.Position,
			Orient:   j.Orient,
		}
	}
	return skel
}

// Compatible reports whether a pose with o's layout can drive s. The joint
// counts must match, and every joint must agree on name and parent index.
// The verdict depends only on the two layouts.
func (s Skeleton) Compatible(o Skeleton) error {
	if len(s) != len(o) {
		return fmt.Errorf("%w: %d joints vs %d", ErrIncompatibleSkeleton, len(s), len(o))
	}
	for i := range s {
		if s[i].Name != o[i].Name {
			return fmt.Errorf("%w: joint %d is %q vs %q", ErrIncompatibleSkeleton, i, s[i].Name, o[i].Name)
		}
		if s[i].Parent != o[i].Parent {
			return fmt.Errorf("%w: joint %d %q parent %d vs %d", ErrIncompatibleSkeleton, i, s[i].Name, s[i].Parent, o[i].Parent)
		}
	}
	return nil
}

// Clone returns an independent copy of the skeleton.
func (s Skeleton) Clone() Skeleton {
	out := make(Skeleton, len(s))
	copy(out, s)
	return out
}

// IndexOf returns the index of the named joint, or -1.
func (s Skeleton) IndexOf(name string) int {
	for i := range s {
		if s[i].Name == name {
			return i
		}
	}
	return -1
}
