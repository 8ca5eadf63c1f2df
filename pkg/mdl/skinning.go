package mdl

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrPoseMismatch is returned when skeletons of different sizes are blended
// or a pose cannot drive a mesh's weights.
var ErrPoseMismatch = errors.New("pose mismatch")

// InterpolateSkeletons blends two poses of the same skeleton into out:
// positions lerp, orientations slerp. Names and parents are taken from a.
// The factor is applied as given, even outside [0,1].
func InterpolateSkeletons(a, b Skeleton, t float32, out Skeleton) error {
	if len(b) != len(a) || len(out) != len(a) {
		return fmt.Errorf("%w: %d/%d/%d joints", ErrPoseMismatch, len(a), len(b), len(out))
	}
	for i := range a {
		out[i].Name = a[i].Name
		out[i].Parent = a[i].Parent
		out[i].Position = a[i].Position.Add(b[i].Position.Sub(a[i].Position).Mul(t))
		out[i].Orient = mgl32.QuatSlerp(a[i].Orient, b[i].Orient, t)
	}
	return nil
}

// SkinMesh poses one mesh with the given skeleton and writes the flattened
// vertex arrays into out. Positions are weighted sums of joint-transformed
// offsets; normals and tangents are rebuilt from the posed triangles, with
// per-vertex accumulation, Gram-Schmidt re-orthonormalization and handedness
// in the tangent W.
func SkinMesh(mesh *Mesh, pose Skeleton, out *MeshData) error {
	out.resize(len(mesh.Vertices), len(mesh.Triangles))

	for i := range mesh.Vertices {
		v := &mesh.Vertices[i]
		var p mgl32.Vec3
		for _, w := range mesh.Weights[v.WeightStart : v.WeightStart+v.WeightCount] {
			if w.Joint < 0 || w.Joint >= len(pose) {
				return fmt.Errorf("%w: weight joint %d of %d", ErrPoseMismatch, w.Joint, len(pose))
			}
			j := &pose[w.Joint]
			p = p.Add(j.Position.Add(j.Orient.Rotate(w.Offset)).Mul(w.Bias))
		}
		out.Positions[i] = p
		out.UVs[i] = v.UV
		out.Normals[i] = mgl32.Vec3{}
		out.tanAcc[i] = mgl32.Vec3{}
		out.bitanAcc[i] = mgl32.Vec3{}
	}

	for ti, tri := range mesh.Triangles {
		p0 := out.Positions[tri[0]]
		e1 := out.Positions[tri[1]].Sub(p0)
		e2 := out.Positions[tri[2]].Sub(p0)
		n := e1.Cross(e2)

		uv0 := out.UVs[tri[0]]
		d1 := out.UVs[tri[1]].Sub(uv0)
		d2 := out.UVs[tri[2]].Sub(uv0)

		var tan, bitan mgl32.Vec3
		if r := d1.X()*d2.Y() - d2.X()*d1.Y(); r > 1e-8 || r < -1e-8 {
			f := 1 / r
			tan = e1.Mul(d2.Y()).Sub(e2.Mul(d1.Y())).Mul(f)
			bitan = e2.Mul(d1.X()).Sub(e1.Mul(d2.X())).Mul(f)
		}

		for _, vi := range tri {
			out.Normals[vi] = out.Normals[vi].Add(n)
			out.tanAcc[vi] = out.tanAcc[vi].Add(tan)
			out.bitanAcc[vi] = out.bitanAcc[vi].Add(bitan)
		}

		out.Indices[ti*3+0] = uint32(tri[0])
		out.Indices[ti*3+1] = uint32(tri[1])
		out.Indices[ti*3+2] = uint32(tri[2])
	}

	for i := range out.Normals {
		n := safeNormalize(out.Normals[i])
		t := out.tanAcc[i]
		t = safeNormalize(t.Sub(n.Mul(n.Dot(t))))

		hand := float32(1)
		if n.Cross(t).Dot(out.bitanAcc[i]) < 0 {
			hand = -1
		}
		out.Normals[i] = n
		out.Tangents[i] = mgl32.Vec4{t.X(), t.Y(), t.Z(), hand}
	}
	return nil
}

// safeNormalize normalizes v, falling back to +Z for degenerate input so
// downstream consumers never see NaNs.
func safeNormalize(v mgl32.Vec3) mgl32.Vec3 {
	if v.Dot(v) < 1e-12 {
		return mgl32.Vec3{0, 0, 1}
	}
	return v.Normalize()
}
