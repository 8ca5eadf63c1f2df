// Package export writes loaded models out as glTF 2.0: skeleton nodes, a
// skinned mesh per MD5 mesh, embedded textures and one animation clip per
// sequence.
package export

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"path"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/vigilem/md5model/pkg/material"
	"github.com/vigilem/md5model/pkg/mdl"
)

// ErrEmptyModel is returned when there is no mesh to export.
var ErrEmptyModel = errors.New("model has no meshes")

// Options selects what goes into the document beyond geometry and skeleton.
type Options struct {
	Name          string // scene name
	EmbedTextures bool   // write resolved diffuse/normal maps into the document
	Animations    bool   // write every loaded sequence as an animation clip
}

// GLTF builds a glTF document from the model. Vertices are skinned at the
// bind pose so they agree with the skin's inverse bind matrices; vertices
// with more than four weights keep the four strongest, renormalized.
func GLTF(m *mdl.Model, opts Options) (*gltf.Document, error) {
	if m.MeshCount() == 0 {
		return nil, ErrEmptyModel
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = "md5model"
	if opts.Name != "" {
		doc.Scenes[0].Name = opts.Name
	}

	bind := m.BindPose()
	jointNodes := exportSkeleton(doc, bind)
	skin := exportSkin(doc, bind, jointNodes)

	mats := newMaterialTable(doc, opts.EmbedTextures)
	var data mdl.MeshData
	for i := 0; i < m.MeshCount(); i++ {
		mesh := m.Mesh(i)
		if err := mdl.SkinMesh(mesh, bind, &data); err != nil {
			return nil, fmt.Errorf("mesh %d: %w", i, err)
		}
		matIdx, err := mats.index(mesh.Material())
		if err != nil {
			return nil, fmt.Errorf("mesh %d material: %w", i, err)
		}
		exportMesh(doc, mesh, &data, skin, matIdx)
	}

	if opts.Animations {
		for i := 0; i < m.AnimationCount(); i++ {
			exportSequence(doc, m.Animation(i), jointNodes)
		}
	}
	return doc, nil
}

// Save writes the model to disk, binary for .glb and JSON otherwise. JSON
// documents embed the buffer as a data URI so they stay self-contained.
func Save(m *mdl.Model, name string, opts Options) error {
	doc, err := GLTF(m, opts)
	if err != nil {
		return err
	}
	if strings.EqualFold(path.Ext(name), ".glb") {
		return gltf.SaveBinary(doc, name)
	}
	for _, buf := range doc.Buffers {
		buf.EmbeddedResource()
	}
	return gltf.Save(doc, name)
}

// Encode writes the model to a stream.
func Encode(w io.Writer, m *mdl.Model, opts Options, binary bool) error {
	doc, err := GLTF(m, opts)
	if err != nil {
		return err
	}
	if !binary {
		for _, buf := range doc.Buffers {
			buf.EmbeddedResource()
		}
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = binary
	return enc.Encode(doc)
}

// exportSkeleton adds one node per joint with local (parent-relative)
// transforms, wires up the child lists, and returns joint-to-node indices.
// Root joints are added to the scene.
func exportSkeleton(doc *gltf.Document, bind mdl.Skeleton) []uint32 {
	jointNodes := make([]uint32, len(bind))
	for i := range bind {
		pos, rot := localTRS(bind, i)
		node := &gltf.Node{
			Name:        bind[i].Name,
			Translation: [3]float32(pos),
			Rotation:    [4]float32{rot.X(), rot.Y(), rot.Z(), rot.W},
			Scale:       [3]float32{1, 1, 1},
		}
		idx := uint32(len(doc.Nodes))
		jointNodes[i] = idx
		doc.Nodes = append(doc.Nodes, node)

		if parent := bind[i].Parent; parent == mdl.NullJoint {
			doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, idx)
		} else {
			doc.Nodes[jointNodes[parent]].Children = append(doc.Nodes[jointNodes[parent]].Children, idx)
		}
	}
	return jointNodes
}

// exportSkin writes the inverse bind matrices and the skin, returning the
// skin index.
func exportSkin(doc *gltf.Document, bind mdl.Skeleton, jointNodes []uint32) uint32 {
	mats := make([]mgl32.Mat4, len(bind))
	for i, j := range bind {
		mats[i] = inverseBind(j)
	}
	flat := make([]float32, 0, 16*len(mats))
	for _, m := range mats {
		flat = append(flat, m[:]...)
	}
	ibm := appendFloatAccessor(doc, flat, len(mats), gltf.AccessorMat4)

	doc.Skins = append(doc.Skins, &gltf.Skin{
		Name:                "skeleton",
		InverseBindMatrices: gltf.Index(ibm),
		Joints:              jointNodes,
	})
	return uint32(len(doc.Skins) - 1)
}

// inverseBind inverts a joint's world transform: rotate by the conjugate,
// then undo the translation. Column-major, translation in the last column.
func inverseBind(j mdl.Joint) mgl32.Mat4 {
	inv := j.Orient.Inverse()
	m := inv.Mat4()
	p := inv.Rotate(j.Position.Mul(-1))
	m[12], m[13], m[14] = p.X(), p.Y(), p.Z()
	return m
}

// localTRS converts joint i of a world-space frame back to its
// parent-relative transform.
func localTRS(frame []mdl.Joint, i int) (mgl32.Vec3, mgl32.Quat) {
	j := frame[i]
	if j.Parent == mdl.NullJoint {
		return j.Position, j.Orient
	}
	p := frame[j.Parent]
	inv := p.Orient.Inverse()
	return inv.Rotate(j.Position.Sub(p.Position)), inv.Mul(j.Orient).Normalize()
}

// exportMesh writes one skinned primitive and its node.
func exportMesh(doc *gltf.Document, mesh *mdl.Mesh, data *mdl.MeshData, skin uint32, matIdx *uint32) {
	n := len(mesh.Vertices)
	positions := make([][3]float32, n)
	normals := make([][3]float32, n)
	tangents := make([][4]float32, n)
	uvs := make([][2]float32, n)
	for i := 0; i < n; i++ {
		positions[i] = [3]float32(data.Positions[i])
		normals[i] = [3]float32(data.Normals[i])
		tangents[i] = [4]float32(data.Tangents[i])
		uvs[i] = [2]float32(data.UVs[i])
	}
	joints, weights := packInfluences(mesh)
	indices := make([]uint32, len(data.Indices))
	copy(indices, data.Indices)

	attributes := map[string]uint32{
		"POSITION":   modeler.WritePosition(doc, positions),
		"NORMAL":     modeler.WriteNormal(doc, normals),
		"TANGENT":    modeler.WriteTangent(doc, tangents),
		"TEXCOORD_0": modeler.WriteTextureCoord(doc, uvs),
		"JOINTS_0":   modeler.WriteJoints(doc, joints),
		"WEIGHTS_0":  modeler.WriteWeights(doc, weights),
	}
	indicesAccessor := modeler.WriteIndices(doc, indices)

	name := path.Base(mesh.Shader)
	gltfMesh := &gltf.Mesh{
		Name: name,
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(indicesAccessor),
			Attributes: attributes,
			Material:   matIdx,
		}},
	}
	doc.Meshes = append(doc.Meshes, gltfMesh)

	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)))
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name:  name,
		Mesh:  gltf.Index(uint32(len(doc.Meshes) - 1)),
		Skin:  gltf.Index(skin),
		Scale: [3]float32{1, 1, 1},
	})
}

// packInfluences reduces each vertex's weight span to the four strongest
// influences, renormalized. Unused slots point at joint 0 with weight 0.
func packInfluences(mesh *mdl.Mesh) ([][4]uint16, [][4]float32) {
	joints := make([][4]uint16, len(mesh.Vertices))
	weights := make([][4]float32, len(mesh.Vertices))

	var span []mdl.Weight
	for i := range mesh.Vertices {
		v := &mesh.Vertices[i]
		span = append(span[:0], mesh.Weights[v.WeightStart:v.WeightStart+v.WeightCount]...)
		sort.Slice(span, func(a, b int) bool { return span[a].Bias > span[b].Bias })
		if len(span) > 4 {
			span = span[:4]
		}

		var sum float32
		for _, w := range span {
			sum += w.Bias
		}
		if sum == 0 {
			sum = 1
		}
		for s, w := range span {
			joints[i][s] = uint16(w.Joint)
			weights[i][s] = w.Bias / sum
		}
	}
	return joints, weights
}

// materialTable deduplicates glTF materials by shader name. Without texture
// embedding (or for meshes with no resolved material) everything shares one
// untextured default.
type materialTable struct {
	doc      *gltf.Document
	embed    bool
	byName   map[string]uint32
	sampler  *uint32
	fallback *uint32
}

func newMaterialTable(doc *gltf.Document, embed bool) *materialTable {
	return &materialTable{doc: doc, embed: embed, byName: make(map[string]uint32)}
}

func (t *materialTable) index(mat *material.Material) (*uint32, error) {
	if !t.embed || mat == nil {
		return t.defaultMaterial(), nil
	}
	if idx, ok := t.byName[mat.Name]; ok {
		return gltf.Index(idx), nil
	}

	gm := &gltf.Material{
		Name:                 mat.Name,
		DoubleSided:          true,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{},
	}
	if mat.Diffuse != nil {
		tex, err := t.writeTexture(mat.Diffuse)
		if err != nil {
			return nil, err
		}
		gm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: tex}
	}
	if mat.Normal != nil {
		tex, err := t.writeTexture(mat.Normal)
		if err != nil {
			return nil, err
		}
		gm.NormalTexture = &gltf.NormalTexture{Index: gltf.Index(tex)}
	}

	idx := uint32(len(t.doc.Materials))
	t.doc.Materials = append(t.doc.Materials, gm)
	t.byName[mat.Name] = idx
	return gltf.Index(idx), nil
}

func (t *materialTable) defaultMaterial() *uint32 {
	if t.fallback == nil {
		t.doc.Materials = append(t.doc.Materials, &gltf.Material{
			Name:        "default",
			DoubleSided: true,
		})
		t.fallback = gltf.Index(uint32(len(t.doc.Materials) - 1))
	}
	return t.fallback
}

func (t *materialTable) writeTexture(tex *material.Texture) (uint32, error) {
	img := &image.RGBA{
		Pix:    tex.Pixels,
		Stride: 4 * tex.Width,
		Rect:   image.Rect(0, 0, tex.Width, tex.Height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("encoding %s: %w", tex.Path, err)
	}
	imgIdx, err := modeler.WriteImage(t.doc, path.Base(tex.Path), "image/png", &buf)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", tex.Path, err)
	}

	if t.sampler == nil {
		t.doc.Samplers = append(t.doc.Samplers, &gltf.Sampler{
			MagFilter: gltf.MagLinear,
			MinFilter: gltf.MinLinear,
			WrapS:     gltf.WrapRepeat,
			WrapT:     gltf.WrapRepeat,
		})
		t.sampler = gltf.Index(uint32(len(t.doc.Samplers) - 1))
	}

	doc := t.doc
	doc.Textures = append(doc.Textures, &gltf.Texture{
		Name:    path.Base(tex.Path),
		Sampler: t.sampler,
		Source:  gltf.Index(imgIdx),
	})
	return uint32(len(doc.Textures) - 1), nil
}

// exportSequence writes one animation clip: linear translation and rotation
// samplers per joint, keyed at the sequence frame rate, with world frames
// converted back to the node-local transforms glTF animates.
func exportSequence(doc *gltf.Document, seq *mdl.Sequence, jointNodes []uint32) {
	n := seq.FrameCount()
	if n == 0 || seq.JointCount() != len(jointNodes) {
		return
	}

	times := make([]float32, n)
	for i := range times {
		times[i] = float32(i) * seq.FrameDuration()
	}
	input := appendFloatAccessor(doc, times, n, gltf.AccessorScalar)
	doc.Accessors[input].Min = []float32{times[0]}
	doc.Accessors[input].Max = []float32{times[n-1]}

	anim := &gltf.Animation{Name: seq.Name()}
	for j := 0; j < seq.JointCount(); j++ {
		posFlat := make([]float32, 0, 3*n)
		rotFlat := make([]float32, 0, 4*n)
		var prev mgl32.Quat
		for f := 0; f < n; f++ {
			frame, err := seq.Frame(f)
			if err != nil {
				return
			}
			pos, rot := localTRS(frame, j)
			// Keep neighboring keys in the same hemisphere so linear
			// interpolation never takes the long way around.
			if f > 0 && prev.Dot(rot) < 0 {
				rot = mgl32.Quat{W: -rot.W, V: rot.V.Mul(-1)}
			}
			prev = rot
			posFlat = append(posFlat, pos.X(), pos.Y(), pos.Z())
			rotFlat = append(rotFlat, rot.X(), rot.Y(), rot.Z(), rot.W)
		}
		posAcc := appendFloatAccessor(doc, posFlat, n, gltf.AccessorVec3)
		rotAcc := appendFloatAccessor(doc, rotFlat, n, gltf.AccessorVec4)

		anim.Samplers = append(anim.Samplers, &gltf.AnimationSampler{
			Input: input, Output: posAcc, Interpolation: gltf.InterpolationLinear,
		})
		anim.Channels = append(anim.Channels, &gltf.Channel{
			Sampler: gltf.Index(uint32(len(anim.Samplers) - 1)),
			Target:  gltf.ChannelTarget{Node: gltf.Index(jointNodes[j]), Path: gltf.TRSTranslation},
		})
		anim.Samplers = append(anim.Samplers, &gltf.AnimationSampler{
			Input: input, Output: rotAcc, Interpolation: gltf.InterpolationLinear,
		})
		anim.Channels = append(anim.Channels, &gltf.Channel{
			Sampler: gltf.Index(uint32(len(anim.Samplers) - 1)),
			Target:  gltf.ChannelTarget{Node: gltf.Index(jointNodes[j]), Path: gltf.TRSRotation},
		})
	}
	doc.Animations = append(doc.Animations, anim)
}

// appendFloatAccessor writes float data into the document buffer behind a
// fresh buffer view and accessor, returning the accessor index. The buffer
// is padded so the view starts 4-byte aligned.
func appendFloatAccessor(doc *gltf.Document, flat []float32, count int, kind gltf.AccessorType) uint32 {
	if len(doc.Buffers) == 0 {
		doc.Buffers = append(doc.Buffers, new(gltf.Buffer))
	}
	bufIdx := uint32(len(doc.Buffers) - 1)
	buf := doc.Buffers[bufIdx]
	for len(buf.Data)%4 != 0 {
		buf.Data = append(buf.Data, 0)
	}

	offset := uint32(len(buf.Data))
	raw := make([]byte, 4*len(flat))
	for i, v := range flat {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	buf.Data = append(buf.Data, raw...)
	buf.ByteLength = uint32(len(buf.Data))

	doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
		Buffer:     bufIdx,
		ByteOffset: offset,
		ByteLength: uint32(len(raw)),
	})
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView:    gltf.Index(uint32(len(doc.BufferViews) - 1)),
		ComponentType: gltf.ComponentFloat,
		Count:         uint32(count),
		Type:          kind,
	})
	return uint32(len(doc.Accessors) - 1)
}
