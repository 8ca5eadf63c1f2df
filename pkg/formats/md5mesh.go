// Package formats provides parsers for the id Tech 4 text asset formats:
// skinned models (.md5mesh), keyframed animations (.md5anim) and material
// scripts (.mtr).
package formats

import (
	"fmt"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"
)

// MD5Version is the only document version the parsers accept.
const MD5Version = 10

// MeshJoint is one joint of the bind-pose skeleton.
type MeshJoint struct {
	Name     string
	Parent   int        // index of the parent joint, -1 for a root
	Position mgl32.Vec3 // model-space position
	Orient   mgl32.Quat // model-space orientation, W recovered
}

// MeshVertex carries a texture coordinate and a span into the weight array.
type MeshVertex struct {
	UV          mgl32.Vec2
	WeightStart int
	WeightCount int
}

// MeshWeight attaches part of a vertex to a single joint.
type MeshWeight struct {
	Joint  int
	Bias   float32
	Offset mgl32.Vec3 // joint-local offset
}

// MeshSection is one shader-bound triangle mesh of an MD5 model.
type MeshSection struct {
	Shader    string
	Vertices  []MeshVertex
	Triangles [][3]int
	Weights   []MeshWeight
}

// MeshFile is a parsed .md5mesh document.
type MeshFile struct {
	Version     int
	Commandline string
	Joints      []MeshJoint
	Meshes      []MeshSection
}

// UnitQuat builds the unit quaternion whose vector part is v. MD5 documents
// store only the vector part; the scalar is recovered from the unit-length
// constraint and clamped to zero when rounding pushes the radicand negative.
func UnitQuat(v mgl32.Vec3) mgl32.Quat {
	t := 1.0 - float64(v.X())*float64(v.X()) - float64(v.Y())*float64(v.Y()) - float64(v.Z())*float64(v.Z())
	if t < 0 {
		return mgl32.Quat{W: 0, V: v}
	}
	return mgl32.Quat{W: float32(math.Sqrt(t)), V: v}
}

// ParseMesh parses .md5mesh data from a byte slice.
func ParseMesh(data []byte) (*MeshFile, error) {
	toks, err := tokenize(data)
	if err != nil {
		return nil, err
	}
	r := &tokenReader{toks: toks}

	doc := &MeshFile{}
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

	numJoints, numMeshes := -1, -1
	for !r.atEOF() {
		tok := r.next()
		if tok.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected directive, got %s at line %d", ErrSyntax, tok, tok.line)
		}
		switch tok.text {
		case "commandline":
			doc.Commandline, err = r.quoted()
		case "numJoints":
			numJoints, err = r.count("numJoints", maxJointCount)
		case "numMeshes":
			numMeshes, err = r.count("numMeshes", maxMeshCount)
		case "joints":
			if numJoints < 0 {
				return nil, fmt.Errorf("%w: joints before numJoints at line %d", ErrCountUndeclared, tok.line)
			}
			doc.Joints, err = parseJoints(r, numJoints)
		case "mesh":
			if numMeshes < 0 {
				return nil, fmt.Errorf("%w: mesh before numMeshes at line %d", ErrCountUndeclared, tok.line)
			}
			if numJoints < 0 {
				return nil, fmt.Errorf("%w: mesh before numJoints at line %d", ErrCountUndeclared, tok.line)
			}
			if len(doc.Meshes) == numMeshes {
				return nil, fmt.Errorf("%w: more than %d mesh sections", ErrCountMismatch, numMeshes)
			}
			var m MeshSection
			m, err = parseMeshSection(r, numJoints)
			if err != nil {
				return nil, fmt.Errorf("mesh %d: %w", len(doc.Meshes), err)
			}
			doc.Meshes = append(doc.Meshes, m)
		default:
			return nil, fmt.Errorf("%w: unknown directive %q at line %d", ErrSyntax, tok.text, tok.line)
		}
		if err != nil {
			return nil, err
		}
	}

	if numJoints < 0 || doc.Joints == nil {
		return nil, fmt.Errorf("%w: missing joints section", ErrCountMismatch)
	}
	if numMeshes < 0 || len(doc.Meshes) != numMeshes {
		return nil, fmt.Errorf("%w: declared %d meshes, found %d", ErrCountMismatch, numMeshes, len(doc.Meshes))
	}
	return doc, nil
}

// parseJoints parses the joints section. Parents must already be defined when
// a child names them, which pins the section to ascending hierarchy order.
func parseJoints(r *tokenReader, count int) ([]MeshJoint, error) {
	if _, err := r.expect(tokLBrace, `"{"`); err != nil {
		return nil, err
	}
	joints := make([]MeshJoint, 0, count)
	for i := 0; i < count; i++ {
		name, err := r.quoted()
		if err != nil {
			return nil, fmt.Errorf("joint %d: %w", i, err)
		}
		parent, err := r.integer()
		if err != nil {
			return nil, fmt.Errorf("joint %d: %w", i, err)
		}
		if parent < -1 {
			return nil, fmt.Errorf("%w: joint %q parent %d", ErrRange, name, parent)
		}
		if parent >= i {
			return nil, fmt.Errorf("%w: joint %d %q names parent %d", ErrJointOrder, i, name, parent)
		}
		pos, err := r.vec3()
		if err != nil {
			return nil, fmt.Errorf("joint %d: %w", i, err)
		}
		orient, err := r.vec3()
		if err != nil {
			return nil, fmt.Errorf("joint %d: %w", i, err)
		}
		joints = append(joints, MeshJoint{
			Name:     name,
			Parent:   parent,
			Position: pos,
			Orient:   UnitQuat(orient),
		})
	}
	if _, err := r.expect(tokRBrace, `"}"`); err != nil {
		return nil, err
	}
	return joints, nil
}

// parseMeshSection parses one "mesh { ... }" block. Counts must precede the
// elements they size, and indices must stay inside their declared ranges.
func parseMeshSection(r *tokenReader, numJoints int) (MeshSection, error) {
	var m MeshSection
	if _, err := r.expect(tokLBrace, `"{"`); err != nil {
		return m, err
	}

	numVerts, numTris, numWeights := -1, -1, -1
	seenVerts, seenTris, seenWeights := 0, 0, 0
	for {
		tok := r.next()
		if tok.kind == tokRBrace {
			break
		}
		if tok.kind != tokIdent {
			return m, fmt.Errorf("%w: expected mesh keyword, got %s at line %d", ErrSyntax, tok, tok.line)
		}

		var err error
		switch tok.text {
		case "shader":
			m.Shader, err = r.quoted()
		case "numverts":
			numVerts, err = r.count("numverts", maxMeshElemCount)
			if err == nil {
				m.Vertices = make([]MeshVertex, numVerts)
			}
		case "vert":
			if numVerts < 0 {
				return m, fmt.Errorf("%w: vert before numverts at line %d", ErrCountUndeclared, tok.line)
			}
			err = parseVert(r, m.Vertices, tok.line)
			seenVerts++
		case "numtris":
			numTris, err = r.count("numtris", maxMeshElemCount)
			if err == nil {
				m.Triangles = make([][3]int, numTris)
			}
		case "tri":
			if numTris < 0 {
				return m, fmt.Errorf("%w: tri before numtris at line %d", ErrCountUndeclared, tok.line)
			}
			if numVerts < 0 {
				return m, fmt.Errorf("%w: tri before numverts at line %d", ErrCountUndeclared, tok.line)
			}
			err = parseTri(r, m.Triangles, numVerts, tok.line)
			seenTris++
		case "numweights":
			numWeights, err = r.count("numweights", maxMeshElemCount)
			if err == nil {
				m.Weights = make([]MeshWeight, numWeights)
			}
		case "weight":
			if numWeights < 0 {
				return m, fmt.Errorf("%w: weight before numweights at line %d", ErrCountUndeclared, tok.line)
			}
			err = parseWeight(r, m.Weights, numJoints, tok.line)
			seenWeights++
		default:
			return m, fmt.Errorf("%w: unknown mesh keyword %q at line %d", ErrSyntax, tok.text, tok.line)
		}
		if err != nil {
			return m, err
		}
	}

	if seenVerts != len(m.Vertices) {
		return m, fmt.Errorf("%w: declared %d verts, found %d", ErrCountMismatch, len(m.Vertices), seenVerts)
	}
	if seenTris != len(m.Triangles) {
		return m, fmt.Errorf("%w: declared %d tris, found %d", ErrCountMismatch, len(m.Triangles), seenTris)
	}
	if seenWeights != len(m.Weights) {
		return m, fmt.Errorf("%w: declared %d weights, found %d", ErrCountMismatch, len(m.Weights), seenWeights)
	}
	for i := range m.Vertices {
		v := &m.Vertices[i]
		if v.WeightStart < 0 || v.WeightCount < 0 || v.WeightStart+v.WeightCount > len(m.Weights) {
			return m, fmt.Errorf("%w: vert %d weight span [%d,%d)", ErrRange, i, v.WeightStart, v.WeightStart+v.WeightCount)
		}
	}
	return m, nil
}

// parseVert parses "vert idx ( u v ) weightStart weightCount".
func parseVert(r *tokenReader, verts []MeshVertex, line int) error {
	idx, err := r.integer()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(verts) {
		return fmt.Errorf("%w: vert index %d at line %d", ErrRange, idx, line)
	}
	uv, err := r.vec2()
	if err != nil {
		return err
	}
	start, err := r.integer()
	if err != nil {
		return err
	}
	count, err := r.integer()
	if err != nil {
		return err
	}
	verts[idx] = MeshVertex{UV: uv, WeightStart: start, WeightCount: count}
	return nil
}

// parseTri parses "tri idx a b c".
func parseTri(r *tokenReader, tris [][3]int, numVerts int, line int) error {
	idx, err := r.integer()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(tris) {
		return fmt.Errorf("%w: tri index %d at line %d", ErrRange, idx, line)
	}
	var tri [3]int
	for i := 0; i < 3; i++ {
		v, err := r.integer()
		if err != nil {
			return err
		}
		if v < 0 || v >= numVerts {
			return fmt.Errorf("%w: tri %d vertex %d at line %d", ErrRange, idx, v, line)
		}
		tri[i] = v
	}
	tris[idx] = tri
	return nil
}

// parseWeight parses "weight idx joint bias ( x y z )".
func parseWeight(r *tokenReader, weights []MeshWeight, numJoints int, line int) error {
	idx, err := r.integer()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(weights) {
		return fmt.Errorf("%w: weight index %d at line %d", ErrRange, idx, line)
	}
	joint, err := r.integer()
	if err != nil {
		return err
	}
	if joint < 0 || joint >= numJoints {
		return fmt.Errorf("%w: weight %d joint %d at line %d", ErrRange, idx, joint, line)
	}
	bias, err := r.float()
	if err != nil {
		return err
	}
	offset, err := r.vec3()
	if err != nil {
		return err
	}
	weights[idx] = MeshWeight{Joint: joint, Bias: bias, Offset: offset}
	return nil
}

// ParseMeshFile parses a .md5mesh file from disk.
func ParseMeshFile(path string) (*MeshFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading md5mesh file: %w", err)
	}
	return ParseMesh(data)
}

// TotalVertexCount returns the number of vertices across all mesh sections.
func (f *MeshFile) TotalVertexCount() int {
	total := 0
	for i := range f.Meshes {
		total += len(f.Meshes[i].Vertices)
	}
	return total
}

// TotalTriangleCount returns the number of triangles across all mesh sections.
func (f *MeshFile) TotalTriangleCount() int {
	total := 0
	for i := range f.Meshes {
		total += len(f.Meshes[i].Triangles)
	}
	return total
}

// TotalWeightCount returns the number of weights across all mesh sections.
func (f *MeshFile) TotalWeightCount() int {
	total := 0
	for i := range f.Meshes {
		total += len(f.Meshes[i].Weights)
	}
	return total
}

// JointByName returns the named joint, or nil if the skeleton has none.
func (f *MeshFile) JointByName(name string) *MeshJoint {
	for i := range f.Joints {
		if f.Joints[i].Name == name {
			return &f.Joints[i]
		}
	}
	return nil
}
