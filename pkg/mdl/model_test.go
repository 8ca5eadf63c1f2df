package mdl

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"testing"
	"testing/fstest"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vigilem/md5model/pkg/formats"
	"github.com/vigilem/md5model/pkg/material"
)

const rangerMeshDoc = `MD5Version 10
commandline ""

numJoints 2
numMeshes 1

joints {
	"origin"	-1 ( 0 0 0 ) ( 0 0 0 )
	"spine"	0 ( 0 0 1 ) ( 0 0 0 )
}

mesh {
	shader "models/characters/ranger/body"

	numverts 3
	vert 0 ( 0 0 ) 0 1
	vert 1 ( 1 0 ) 1 1
	vert 2 ( 0 1 ) 2 1

	numtris 1
	tri 0 0 1 2

	numweights 3
	weight 0 0 1 ( 0 0 0 )
	weight 1 0 1 ( 1 0 0 )
	weight 2 1 1 ( 0 1 0 )
}
`

const riseAnimDoc = `MD5Version 10
commandline ""

numFrames 2
numJoints 2
frameRate 24
numAnimatedComponents 12

hierarchy {
	"origin"	-1 63 0
	"spine"	0 63 6
}

bounds {
	( -1 -1 -1 ) ( 1 1 1 )
	( -2 -2 -2 ) ( 2 2 2 )
}

baseframe {
	( 0 0 0 ) ( 0 0 0 )
	( 0 0 1 ) ( 0 0 0 )
}

frame 0 {
	0 0 0 0 0 0
	0 0 1 0 0 0
}

frame 1 {
	0 0 2 0 0 0
	0 0 1 0 0 0
}
`

const idleAnimDoc = `MD5Version 10
commandline ""

numFrames 1
numJoints 2
frameRate 24
numAnimatedComponents 0

hierarchy {
	"origin"	-1 0 0
	"spine"	0 0 0
}

bounds {
	( 0 0 0 ) ( 1 1 1 )
}

baseframe {
	( 0 0 0 ) ( 0 0 0 )
	( 0 0 1 ) ( 0 0 0 )
}

frame 0 {
}
`

const renamedAnimDoc = `MD5Version 10
commandline ""

numFrames 1
numJoints 2
frameRate 24
numAnimatedComponents 0

hierarchy {
	"origin"	-1 0 0
	"hips"	0 0 0
}

bounds {
	( 0 0 0 ) ( 1 1 1 )
}

baseframe {
	( 0 0 0 ) ( 0 0 0 )
	( 0 0 1 ) ( 0 0 0 )
}

frame 0 {
}
`

const rangerMtrDoc = `models/characters/ranger/body
{
	diffusemap textures/body
}
`

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func rangerAssets(t *testing.T) fstest.MapFS {
	t.Helper()
	return fstest.MapFS{
		"model/ranger.md5mesh": &fstest.MapFile{Data: []byte(rangerMeshDoc)},
		"anims/rise.md5anim":   &fstest.MapFile{Data: []byte(riseAnimDoc)},
		"anims/idle.md5anim":   &fstest.MapFile{Data: []byte(idleAnimDoc)},
		"materials/ranger.mtr": &fstest.MapFile{Data: []byte(rangerMtrDoc)},
		"textures/body.png":    &fstest.MapFile{Data: testPNG(t)},
	}
}

func loadRanger(t *testing.T) *Model {
	t.Helper()
	m := New()
	if err := m.LoadMeshFS(rangerAssets(t), "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}
	return m
}

func TestModel_LoadMesh(t *testing.T) {
	m := loadRanger(t)

	if m.JointCount() != 2 || m.MeshCount() != 1 {
		t.Fatalf("counts = %d joints, %d meshes", m.JointCount(), m.MeshCount())
	}
	if m.Mesh(0).Shader != "models/characters/ranger/body" {
		t.Errorf("shader = %q", m.Mesh(0).Shader)
	}
	if m.Animated() || m.CurrentAnimation() != -1 {
		t.Error("fresh model reports an active animation")
	}
	if _, ok := m.State(); ok {
		t.Error("fresh model reports playback state")
	}

	bind := m.BindPose()
	if bind.IndexOf("spine") != 1 {
		t.Errorf("bind skeleton = %+v", bind)
	}
	if !vecNear(bind[1].Position, mgl32.Vec3{0, 0, 1}) {
		t.Errorf("spine bind position = %v", bind[1].Position)
	}
	if &m.Pose()[0] != &bind[0] {
		t.Error("Pose() without a sequence should expose the bind skeleton")
	}
}

func TestModel_LoadMeshMissing(t *testing.T) {
	m := New()
	if err := m.LoadMeshFS(fstest.MapFS{}, "model/ranger.md5mesh"); err == nil {
		t.Fatal("loading a missing mesh succeeded")
	}
}

func TestModel_AnimationBeforeMesh(t *testing.T) {
	m := New()
	err := m.LoadAnimationFS(rangerAssets(t), "anims/rise.md5anim")
	if !errors.Is(err, ErrNoMesh) {
		t.Errorf("error = %v, want ErrNoMesh", err)
	}
}

func TestModel_AddAnimationRejections(t *testing.T) {
	fsys := rangerAssets(t)
	fsys["anims/renamed.md5anim"] = &fstest.MapFile{Data: []byte(renamedAnimDoc)}
	fsys["anims/broken.md5anim"] = &fstest.MapFile{Data: []byte("MD5Version 10\nnumFrames 2\n")}

	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}

	if err := m.LoadAnimationFS(fsys, "anims/renamed.md5anim"); !errors.Is(err, ErrIncompatibleSkeleton) {
		t.Errorf("renamed joint error = %v, want ErrIncompatibleSkeleton", err)
	}
	if err := m.LoadAnimationFS(fsys, "anims/broken.md5anim"); err == nil {
		t.Error("truncated animation parsed")
	}
	if err := m.AddAnimation(&formats.AnimFile{FrameRate: 24}, "empty"); !errors.Is(err, ErrEmptySequence) {
		t.Errorf("empty error = %v, want ErrEmptySequence", err)
	}

	// Every rejection leaves the list untouched.
	if m.AnimationCount() != 0 {
		t.Errorf("AnimationCount() = %d after rejections, want 0", m.AnimationCount())
	}

	if err := m.LoadAnimationFS(fsys, "anims/rise.md5anim"); err != nil {
		t.Fatalf("LoadAnimationFS: %v", err)
	}
	if m.AnimationCount() != 1 {
		t.Errorf("AnimationCount() = %d, want 1", m.AnimationCount())
	}
}

func TestModel_AnimationLookup(t *testing.T) {
	fsys := rangerAssets(t)
	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}
	for _, name := range []string{"anims/rise.md5anim", "anims/idle.md5anim"} {
		if err := m.LoadAnimationFS(fsys, name); err != nil {
			t.Fatalf("LoadAnimationFS(%s): %v", name, err)
		}
	}

	if i := m.AnimationIndex("idle"); i != 1 {
		t.Errorf("AnimationIndex(idle) = %d, want 1", i)
	}
	if i := m.AnimationIndex("walk"); i != -1 {
		t.Errorf("AnimationIndex(walk) = %d, want -1", i)
	}
	if seq := m.Animation(0); seq == nil || seq.Name() != "rise" {
		t.Errorf("Animation(0) = %v", seq)
	}
	if m.Animation(5) != nil || m.Animation(-1) != nil {
		t.Error("out-of-range Animation() should be nil")
	}

	// Loading an animation never selects it.
	if m.Animated() {
		t.Error("loading selected an animation")
	}
}

func TestModel_SetAnimation(t *testing.T) {
	fsys := rangerAssets(t)
	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}
	if err := m.LoadAnimationFS(fsys, "anims/rise.md5anim"); err != nil {
		t.Fatalf("LoadAnimationFS: %v", err)
	}

	if err := m.SetAnimation(1); !errors.Is(err, ErrAnimationRange) {
		t.Errorf("error = %v, want ErrAnimationRange", err)
	}
	if err := m.SetAnimation(0); err != nil {
		t.Fatalf("SetAnimation: %v", err)
	}
	if !m.Animated() || m.CurrentAnimation() != 0 {
		t.Error("animation not selected")
	}

	st, ok := m.State()
	if !ok || st.CurrentFrame != 0 || st.NextFrame != 1 || st.Elapsed != 0 {
		t.Errorf("state = %+v", st)
	}

	// The pose is evaluated immediately at the start of frame 0.
	pose := m.Pose()
	if !vecNear(pose[0].Position, mgl32.Vec3{0, 0, 0}) || !vecNear(pose[1].Position, mgl32.Vec3{0, 0, 1}) {
		t.Errorf("pose = %v / %v", pose[0].Position, pose[1].Position)
	}
}

func TestModel_Animate(t *testing.T) {
	fsys := rangerAssets(t)
	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}
	if err := m.LoadAnimationFS(fsys, "anims/rise.md5anim"); err != nil {
		t.Fatalf("LoadAnimationFS: %v", err)
	}
	if err := m.SetAnimation(0); err != nil {
		t.Fatalf("SetAnimation: %v", err)
	}

	halfFrame := float32(1.0 / 48)

	// Half a frame in: blending frame 0 toward frame 1 at 0.5.
	m.Animate(halfFrame)
	pose := m.Pose()
	if !vecNear(pose[0].Position, mgl32.Vec3{0, 0, 1}) {
		t.Errorf("origin at t=0.5 = %v, want (0 0 1)", pose[0].Position)
	}
	if !vecNear(pose[1].Position, mgl32.Vec3{0, 0, 2}) {
		t.Errorf("spine at t=0.5 = %v, want (0 0 2)", pose[1].Position)
	}
	if st, _ := m.State(); st.CurrentFrame != 0 {
		t.Errorf("frame advanced early: %+v", st)
	}

	// The boundary tick still evaluates against the old pair, at factor 1,
	// then the pair steps and wraps.
	m.Animate(halfFrame)
	pose = m.Pose()
	if !vecNear(pose[0].Position, mgl32.Vec3{0, 0, 2}) {
		t.Errorf("origin at boundary = %v, want frame 1", pose[0].Position)
	}
	st, _ := m.State()
	if st.CurrentFrame != 1 || st.NextFrame != 0 || st.Elapsed != 0 {
		t.Errorf("state after boundary = %+v, want (1, 0) at 0", st)
	}

	// Next tick blends frame 1 back toward frame 0.
	m.Animate(halfFrame)
	pose = m.Pose()
	if !vecNear(pose[0].Position, mgl32.Vec3{0, 0, 1}) {
		t.Errorf("origin on wrap blend = %v, want (0 0 1)", pose[0].Position)
	}
}

func TestModel_AnimateWithoutSelection(t *testing.T) {
	m := loadRanger(t)
	m.Animate(1) // no-op
	if m.Animated() {
		t.Error("Animate selected a sequence")
	}
}

func TestModel_SingleFrameAnimation(t *testing.T) {
	fsys := rangerAssets(t)
	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}
	if err := m.LoadAnimationFS(fsys, "anims/idle.md5anim"); err != nil {
		t.Fatalf("LoadAnimationFS: %v", err)
	}
	if err := m.SetAnimation(0); err != nil {
		t.Fatalf("SetAnimation: %v", err)
	}

	for i := 0; i < 3; i++ {
		m.Animate(1)
	}
	st, _ := m.State()
	if st.CurrentFrame != 0 || st.NextFrame != 0 {
		t.Errorf("state = %+v, want pinned to frame 0", st)
	}
	if pose := m.Pose(); !vecNear(pose[1].Position, mgl32.Vec3{0, 0, 1}) {
		t.Errorf("pose = %v", pose[1].Position)
	}
}

func TestModel_ReloadResets(t *testing.T) {
	fsys := rangerAssets(t)
	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}
	if err := m.LoadAnimationFS(fsys, "anims/rise.md5anim"); err != nil {
		t.Fatalf("LoadAnimationFS: %v", err)
	}
	if err := m.SetAnimation(0); err != nil {
		t.Fatalf("SetAnimation: %v", err)
	}

	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.AnimationCount() != 0 || m.Animated() {
		t.Errorf("reload kept %d animations, animated=%v", m.AnimationCount(), m.Animated())
	}
}

func TestModel_MeshData(t *testing.T) {
	m := loadRanger(t)

	data, err := m.MeshData(0)
	if err != nil {
		t.Fatalf("MeshData: %v", err)
	}
	want := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 1}}
	for i, w := range want {
		if !vecNear(data.Positions[i], w) {
			t.Errorf("position %d = %v, want %v", i, data.Positions[i], w)
		}
	}

	again, err := m.MeshData(0)
	if err != nil {
		t.Fatalf("second MeshData: %v", err)
	}
	if again != data {
		t.Error("MeshData should reuse the model's scratch buffers")
	}

	if _, err := m.MeshData(1); !errors.Is(err, ErrMeshRange) {
		t.Errorf("error = %v, want ErrMeshRange", err)
	}
	if m.Mesh(1) != nil || m.Mesh(-1) != nil {
		t.Error("out-of-range Mesh() should be nil")
	}
}

func TestModel_Bounds(t *testing.T) {
	fsys := rangerAssets(t)
	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}

	// Bind pose: box over the skinned vertices.
	b := m.Bounds()
	if !vecNear(b.Min, mgl32.Vec3{0, 0, 0}) || !vecNear(b.Max, mgl32.Vec3{1, 1, 1}) {
		t.Errorf("bind bounds = %+v", b)
	}

	if err := m.LoadAnimationFS(fsys, "anims/rise.md5anim"); err != nil {
		t.Fatalf("LoadAnimationFS: %v", err)
	}
	if err := m.SetAnimation(0); err != nil {
		t.Fatalf("SetAnimation: %v", err)
	}

	// Animated: the stored per-frame boxes.
	b = m.Bounds()
	if !vecNear(b.Min, mgl32.Vec3{-1, -1, -1}) || !vecNear(b.Max, mgl32.Vec3{1, 1, 1}) {
		t.Errorf("frame 0 bounds = %+v", b)
	}

	m.Animate(1.0 / 24)
	b = m.Bounds()
	if !vecNear(b.Min, mgl32.Vec3{-2, -2, -2}) || !vecNear(b.Max, mgl32.Vec3{2, 2, 2}) {
		t.Errorf("frame 1 bounds = %+v", b)
	}
}

func TestModel_AttachMaterials(t *testing.T) {
	fsys := rangerAssets(t)
	m := New()
	if err := m.LoadMeshFS(fsys, "model/ranger.md5mesh"); err != nil {
		t.Fatalf("LoadMeshFS: %v", err)
	}

	reg := material.NewRegistry(fsys)
	if _, err := reg.LoadScripts("materials/*.mtr"); err != nil {
		t.Fatalf("LoadScripts: %v", err)
	}

	if err := m.AttachMaterials(reg); err != nil {
		t.Fatalf("AttachMaterials: %v", err)
	}
	mat := m.Mesh(0).Material()
	if mat == nil || mat.Diffuse == nil {
		t.Fatal("mesh material not resolved")
	}
	if reg.Cached() != 1 {
		t.Errorf("Cached() = %d, want 1", reg.Cached())
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.Mesh(0).Material() != nil {
		t.Error("Close left a material attached")
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("registry Close after release: %v", err)
	}
}

func TestModel_AttachMaterialsUnknown(t *testing.T) {
	m := loadRanger(t)

	reg := material.NewRegistry(fstest.MapFS{})
	err := m.AttachMaterials(reg)
	if !errors.Is(err, material.ErrUnknownMaterial) {
		t.Errorf("error = %v, want ErrUnknownMaterial", err)
	}
	if m.Mesh(0).Material() != nil {
		t.Error("failed resolve still attached a material")
	}
}
