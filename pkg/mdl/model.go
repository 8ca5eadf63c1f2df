// Package mdl implements skinned MD5 models: bind-pose skeletons, fully
// expanded animation sequences, playback state and CPU skinning.
package mdl

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/vigilem/md5model/pkg/formats"
	"github.com/vigilem/md5model/pkg/material"
)

// Model errors.
var (
	ErrNoMesh         = errors.New("no mesh loaded")
	ErrAnimationRange = errors.New("animation index out of range")
	ErrMeshRange      = errors.New("mesh index out of range")
	ErrEmptySequence  = errors.New("sequence has no frames")
)

// Model owns the meshes, bind skeleton and animation sequences of one MD5
// model, plus the playback state that drives them. A Model is not safe for
// concurrent use.
type Model struct {
	meshes []Mesh
	bind   Skeleton
	pose   Skeleton // animated pose, nil until a sequence is selected

	seqs    []*Sequence
	states  []PlaybackState
	current int

	registry *material.Registry
	data     MeshData // skinning scratch, sized to the largest mesh

	bindBounds    Bounds
	hasBindBounds bool
}

// New returns an empty model with no active animation.
func New() *Model {
	return &Model{current: -1}
}

// LoadMesh parses a .md5mesh file and installs it as the model's mesh set.
func (m *Model) LoadMesh(path string) error {
	doc, err := formats.ParseMeshFile(path)
	if err != nil {
		return err
	}
	return m.SetMesh(doc)
}

// LoadMeshFS is LoadMesh reading from a file system.
func (m *Model) LoadMeshFS(fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("reading md5mesh: %w", err)
	}
	doc, err := formats.ParseMesh(data)
	if err != nil {
		return err
	}
	return m.SetMesh(doc)
}

// SetMesh installs a parsed mesh document. Any previously loaded meshes,
// animations, playback state and attached materials are discarded first, so
// a model can be reloaded in place.
func (m *Model) SetMesh(doc *formats.MeshFile) error {
	m.releaseMaterials()

	m.bind = SkeletonFromMesh(doc)
	m.meshes = make([]Mesh, len(doc.Meshes))
	maxVerts, maxTris := 0, 0
	for i, sec := range doc.Meshes {
		m.meshes[i] = NewMesh(sec)
		if n := len(sec.Vertices); n > maxVerts {
			maxVerts = n
		}
		if n := len(sec.Triangles); n > maxTris {
			maxTris = n
		}
	}
	m.data.resize(maxVerts, maxTris)

	m.seqs = nil
	m.states = nil
	m.current = -1
	m.pose = nil
	m.hasBindBounds = false
	return nil
}

// LoadAnimation parses a .md5anim file and appends it as a sequence, named
// after the file. The mesh must be loaded first, and the animation's
// skeleton must be compatible with the bind skeleton; on any failure the
// sequence list is left untouched.
func (m *Model) LoadAnimation(path string) error {
	if m.bind == nil {
		return ErrNoMesh
	}
	doc, err := formats.ParseAnimFile(path)
	if err != nil {
		return err
	}
	return m.AddAnimation(doc, animationName(path))
}

// LoadAnimationFS is LoadAnimation reading from a file system.
func (m *Model) LoadAnimationFS(fsys fs.FS, name string) error {
	if m.bind == nil {
		return ErrNoMesh
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("reading md5anim: %w", err)
	}
	doc, err := formats.ParseAnim(data)
	if err != nil {
		return err
	}
	return m.AddAnimation(doc, animationName(name))
}

func animationName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// AddAnimation expands a parsed animation document and appends it. The
// current animation selection is unchanged, even when the list was empty.
func (m *Model) AddAnimation(doc *formats.AnimFile, name string) error {
	if m.bind == nil {
		return ErrNoMesh
	}
	if doc.NumFrames() == 0 {
		return fmt.Errorf("%w: %q", ErrEmptySequence, name)
	}
	seq, err := BuildSequence(doc, name)
	if err != nil {
		return err
	}
	frame0, err := seq.Frame(0)
	if err != nil {
		return err
	}
	if err := m.bind.Compatible(Skeleton(frame0)); err != nil {
		return fmt.Errorf("animation %q: %w", name, err)
	}
	m.seqs = append(m.seqs, seq)
	m.states = append(m.states, NewPlaybackState(seq))
	return nil
}

// SetAnimation selects the active sequence, resets its playback state and
// evaluates the pose at the start of frame 0.
func (m *Model) SetAnimation(i int) error {
	if i < 0 || i >= len(m.seqs) {
		return fmt.Errorf("%w: %d of %d", ErrAnimationRange, i, len(m.seqs))
	}
	seq := m.seqs[i]
	m.current = i
	m.states[i] = NewPlaybackState(seq)

	if len(m.pose) != seq.JointCount() {
		m.pose = make(Skeleton, seq.JointCount())
	}
	st := &m.states[i]
	return InterpolateSkeletons(seq.frames[st.CurrentFrame], seq.frames[st.NextFrame], 0, m.pose)
}

// Animate steps the active sequence by dt seconds and re-evaluates the pose.
// The pose blends the frame pair in effect when the tick began; once the
// elapsed time reaches the frame duration the pair advances and wraps.
// Without an active sequence, or with a single-frame one, this is a no-op on
// the frame pair.
func (m *Model) Animate(dt float32) {
	if m.current < 0 {
		return
	}
	seq := m.seqs[m.current]
	st := &m.states[m.current]

	a := seq.frames[st.CurrentFrame]
	b := seq.frames[st.NextFrame]
	t := st.Tick(dt, seq)
	// Lengths are fixed at load time, so this cannot fail.
	_ = InterpolateSkeletons(a, b, t, m.pose)
}

// Pose returns the skeleton to skin with: the interpolated pose when a
// sequence is active, otherwise the bind skeleton. The slice is live model
// storage.
func (m *Model) Pose() Skeleton {
	if m.current >= 0 {
		return m.pose
	}
	return m.bind
}

// BindPose returns the bind skeleton.
func (m *Model) BindPose() Skeleton { return m.bind }

// Animated reports whether a sequence is selected.
func (m *Model) Animated() bool { return m.current >= 0 }

// CurrentAnimation returns the selected sequence index, or -1.
func (m *Model) CurrentAnimation() int { return m.current }

// State returns a copy of the active playback state.
func (m *Model) State() (PlaybackState, bool) {
	if m.current < 0 {
		return PlaybackState{}, false
	}
	return m.states[m.current], true
}

// JointCount returns the number of joints in the bind skeleton.
func (m *Model) JointCount() int { return len(m.bind) }

// MeshCount returns the number of meshes.
func (m *Model) MeshCount() int { return len(m.meshes) }

// Mesh returns mesh i, or nil when out of range.
func (m *Model) Mesh(i int) *Mesh {
	if i < 0 || i >= len(m.meshes) {
		return nil
	}
	return &m.meshes[i]
}

// AnimationCount returns the number of loaded sequences.
func (m *Model) AnimationCount() int { return len(m.seqs) }

// Animation returns sequence i, or nil when out of range.
func (m *Model) Animation(i int) *Sequence {
	if i < 0 || i >= len(m.seqs) {
		return nil
	}
	return m.seqs[i]
}

// AnimationIndex returns the index of the named sequence, or -1.
func (m *Model) AnimationIndex(name string) int {
	for i, seq := range m.seqs {
		if seq.name == name {
			return i
		}
	}
	return -1
}

// MeshData skins mesh i with the current pose and returns the flattened
// vertex arrays. The returned data is shared scratch: it stays valid only
// until the next MeshData, Animate or Bounds call.
func (m *Model) MeshData(i int) (*MeshData, error) {
	if i < 0 || i >= len(m.meshes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrMeshRange, i, len(m.meshes))
	}
	if err := SkinMesh(&m.meshes[i], m.Pose(), &m.data); err != nil {
		return nil, fmt.Errorf("mesh %d: %w", i, err)
	}
	return &m.data, nil
}

// Bounds returns the model's bounding box: the active frame's stored bounds
// when animating, otherwise a box over the skinned bind pose (computed once
// and cached until the mesh set changes).
func (m *Model) Bounds() Bounds {
	if m.current >= 0 {
		return m.seqs[m.current].bounds[m.states[m.current].CurrentFrame]
	}
	if !m.hasBindBounds {
		var b Bounds
		first := true
		for i := range m.meshes {
			if err := SkinMesh(&m.meshes[i], m.bind, &m.data); err != nil {
				continue
			}
			mb := boundsOfPoints(m.data.Positions)
			if first {
				b = mb
				first = false
			} else {
				b = b.merge(mb)
			}
		}
		m.bindBounds = b
		m.hasBindBounds = true
	}
	return m.bindBounds
}

// AttachMaterials resolves every mesh's shader name through the registry and
// pins the results. Meshes whose material cannot be resolved are left bare;
// the first failure is reported after all meshes have been tried.
func (m *Model) AttachMaterials(reg *material.Registry) error {
	m.releaseMaterials()
	m.registry = reg

	var firstErr error
	for i := range m.meshes {
		mesh := &m.meshes[i]
		mat, err := reg.Acquire(mesh.Shader)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mesh %d shader %q: %w", i, mesh.Shader, err)
			}
			continue
		}
		mesh.mat = mat
	}
	return firstErr
}

// releaseMaterials returns every attached material to the registry.
func (m *Model) releaseMaterials() {
	if m.registry == nil {
		return
	}
	for i := range m.meshes {
		if m.meshes[i].mat != nil {
			m.registry.Release(m.meshes[i].mat)
			m.meshes[i].mat = nil
		}
	}
	m.registry = nil
}

// Close releases attached materials. The model stays usable for untextured
// work afterwards.
func (m *Model) Close() error {
	m.releaseMaterials()
	return nil
}
