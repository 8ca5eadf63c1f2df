package mdl

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vigilem/md5model/pkg/formats"
	"github.com/vigilem/md5model/pkg/material"
)

// Vertex carries a texture coordinate and a span into its mesh's weight
// array. Positions are not stored; they are derived from the weights and the
// current pose.
type Vertex struct {
	UV          mgl32.Vec2
	WeightStart int
	WeightCount int
}

// Weight binds part of a vertex to one joint.
type Weight struct {
	Joint  int
	Bias   float32
	Offset mgl32.Vec3
}

// Mesh is one shader-bound triangle mesh of a model.
type Mesh struct {
	Shader    string
	Vertices  []Vertex
	Triangles [][3]int
	Weights   []Weight

	mat *material.Material
}

// NewMesh converts a parsed mesh section.
func NewMesh(sec formats.MeshSection) Mesh {
	m := Mesh{
		Shader:    sec.Shader,
		Vertices:  make([]Vertex, len(sec.Vertices)),
		Triangles: make([][3]int, len(sec.Triangles)),
		Weights:   make([]Weight, len(sec.Weights)),
	}
	for i, v := range sec.Vertices {
		m.Vertices[i] = Vertex{UV: v.UV, WeightStart: v.WeightStart, WeightCount: v.WeightCount}
	}
	copy(m.Triangles, sec.Triangles)
	for i, w := range sec.Weights {
		m.Weights[i] = Weight{Joint: w.Joint, Bias: w.Bias, Offset: w.Offset}
	}
	return m
}

// Material returns the resolved material, or nil when none is attached.
func (m *Mesh) Material() *material.Material { return m.mat }

// MeshData holds the flattened per-vertex arrays produced by skinning one
// mesh. A Model reuses a single MeshData sized to its largest mesh, so the
// slices are only valid until the next skinning call.
type MeshData struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Tangents  []mgl32.Vec4 // xyz tangent, w handedness
	UVs       []mgl32.Vec2
	Indices   []uint32

	tanAcc   []mgl32.Vec3
	bitanAcc []mgl32.Vec3
}

// resize adjusts every array to the given vertex and triangle counts,
// reusing capacity where it can.
func (d *MeshData) resize(verts, tris int) {
	d.Positions = growVec3(d.Positions, verts)
	d.Normals = growVec3(d.Normals, verts)
	d.UVs = growVec2(d.UVs, verts)
	d.tanAcc = growVec3(d.tanAcc, verts)
	d.bitanAcc = growVec3(d.bitanAcc, verts)

	if cap(d.Tangents) < verts {
		d.Tangents = make([]mgl32.Vec4, verts)
	} else {
		d.Tangents = d.Tangents[:verts]
	}
	if cap(d.Indices) < tris*3 {
		d.Indices = make([]uint32, tris*3)
	} else {
		d.Indices = d.Indices[:tris*3]
	}
}

func growVec3(s []mgl32.Vec3, n int) []mgl32.Vec3 {
	if cap(s) < n {
		return make([]mgl32.Vec3, n)
	}
	return s[:n]
}

func growVec2(s []mgl32.Vec2, n int) []mgl32.Vec2 {
	if cap(s) < n {
		return make([]mgl32.Vec2, n)
	}
	return s[:n]
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Center returns the box midpoint.
func (b Bounds) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the box extents along each axis.
func (b Bounds) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// boundsOfPoints folds points into an AABB. Zero bounds for an empty set.
func boundsOfPoints(pts []mgl32.Vec3) Bounds {
	if len(pts) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < b.Min[i] {
				b.Min[i] = p[i]
			}
			if p[i] > b.Max[i] {
				b.Max[i] = p[i]
			}
		}
	}
	return b
}

// merge extends b to cover o.
func (b Bounds) merge(o Bounds) Bounds {
	for i := 0; i < 3; i++ {
		if o.Min[i] < b.Min[i] {
			b.Min[i] = o.Min[i]
		}
		if o.Max[i] > b.Max[i] {
			b.Max[i] = o.Max[i]
		}
	}
	return b
}
