// md5tool is a CLI utility for inspecting and converting Doom 3 MD5 models.
package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/vigilem/md5model/internal/config"
	"github.com/vigilem/md5model/internal/logger"
	"github.com/vigilem/md5model/pkg/assets"
	"github.com/vigilem/md5model/pkg/export"
	"github.com/vigilem/md5model/pkg/formats"
	"github.com/vigilem/md5model/pkg/material"
	"github.com/vigilem/md5model/pkg/mdl"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	logOpts := logger.Default()
	logOpts.Level = cfg.Logging.Level
	logOpts.File = cfg.Logging.LogFile
	log := logger.New(logOpts)
	defer log.Sync()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	rest := args[1:]

	var cmdErr error
	switch command {
	case "info":
		cmdErr = cmdInfo(cfg, rest)
	case "joints":
		cmdErr = cmdJoints(cfg, rest)
	case "anim":
		cmdErr = cmdAnim(cfg, rest)
	case "check":
		cmdErr = cmdCheck(cfg, rest)
	case "materials", "mats":
		cmdErr = cmdMaterials(cfg, rest)
	case "export":
		cmdErr = cmdExport(cfg, log, rest)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		log.Error("command failed", zap.String("command", command), zap.Error(cmdErr))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`md5tool - Doom 3 MD5 model and animation utility

Usage:
  md5tool [options] <command> [arguments]

Commands:
  info <model.md5mesh>                 Show joint, mesh and weight statistics
  joints [-v] <model.md5mesh>          Print the joint hierarchy
  anim [-v] <anim.md5anim>             Show animation header and timing
  check <model.md5mesh> <anim...>      Verify animations fit the model's skeleton
  materials [-v] [-n N] [pattern]      List material definitions in the data roots
  export [-o out] <model.md5mesh> [anim...]  Write a glTF document

Options (before the command):
  -roots dir,file.pk4   Data roots to mount (later roots win)
  -materials pattern    Material script glob, default materials/*.mtr
  -config path          Explicit config file
  -scene name           Scene name for exports
  -bare                 Export geometry only
  -debug                Debug logging

Examples:
  md5tool -roots /opt/doom3/base info models/md5/monsters/imp/imp.md5mesh
  md5tool -roots base.pk4,patch.pk4 joints models/md5/cyberdemon/cyberdemon.md5mesh
  md5tool export -o imp.glb models/md5/monsters/imp/imp.md5mesh models/md5/monsters/imp/walk1.md5anim`)
}

// mountRoots opens every configured data root as one layered file system.
func mountRoots(cfg *config.Config) (*assets.Stack, error) {
	stack := assets.NewStack()
	for _, root := range cfg.Data.Roots {
		if err := stack.Mount(root); err != nil {
			stack.Close()
			return nil, err
		}
	}
	return stack, nil
}

func fmtVec(v mgl32.Vec3) string {
	return fmt.Sprintf("(%.3f %.3f %.3f)", v.X(), v.Y(), v.Z())
}

func cmdInfo(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: md5tool info <model.md5mesh>")
	}

	stack, err := mountRoots(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	m := mdl.New()
	if err := m.LoadMeshFS(stack, fs.Arg(0)); err != nil {
		return err
	}

	var verts, tris, weights int
	for i := 0; i < m.MeshCount(); i++ {
		mesh := m.Mesh(i)
		verts += len(mesh.Vertices)
		tris += len(mesh.Triangles)
		weights += len(mesh.Weights)
	}

	fmt.Printf("Model:   %s\n", fs.Arg(0))
	fmt.Printf("Joints:  %d\n", m.JointCount())
	fmt.Printf("Meshes:  %d (%d verts, %d tris, %d weights)\n", m.MeshCount(), verts, tris, weights)
	fmt.Println()
	fmt.Printf("  %-3s %-44s %7s %7s %8s\n", "#", "shader", "verts", "tris", "weights")
	for i := 0; i < m.MeshCount(); i++ {
		mesh := m.Mesh(i)
		fmt.Printf("  %-3d %-44s %7d %7d %8d\n",
			i, mesh.Shader, len(mesh.Vertices), len(mesh.Triangles), len(mesh.Weights))
	}

	bounds := m.Bounds()
	fmt.Println()
	fmt.Printf("Bind bounds: min %s max %s size %s\n",
		fmtVec(bounds.Min), fmtVec(bounds.Max), fmtVec(bounds.Size()))
	return nil
}

func cmdJoints(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("joints", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Dump full joint data")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: md5tool joints [-v] <model.md5mesh>")
	}

	stack, err := mountRoots(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	m := mdl.New()
	if err := m.LoadMeshFS(stack, fs.Arg(0)); err != nil {
		return err
	}

	bind := m.BindPose()
	if *verbose {
		spew.Dump(bind)
		return nil
	}

	// Parents always precede children, so depths resolve in one pass.
	depth := make([]int, len(bind))
	for i, j := range bind {
		indent := ""
		if j.Parent != mdl.NullJoint {
			depth[i] = depth[j.Parent] + 1
			indent = strings.Repeat("  ", depth[i])
		}
		fmt.Printf("%3d %s%s %s\n", i, indent, j.Name, fmtVec(j.Position))
	}
	return nil
}

func channelMask(flags uint8) string {
	names := []string{"tx", "ty", "tz", "qx", "qy", "qz"}
	var parts []string
	for i, n := range names {
		if flags&(1<<uint(i)) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

func cmdAnim(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("anim", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Dump the parsed document")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: md5tool anim [-v] <anim.md5anim>")
	}

	stack, err := mountRoots(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	data, err := stack.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	doc, err := formats.ParseAnim(data)
	if err != nil {
		return err
	}

	if *verbose {
		spew.Dump(doc)
		return nil
	}

	fmt.Printf("Animation:  %s\n", fs.Arg(0))
	fmt.Printf("Frames:     %d @ %d fps (%.2fs)\n",
		doc.NumFrames(), doc.FrameRate, float64(doc.NumFrames())/float64(doc.FrameRate))
	fmt.Printf("Joints:     %d\n", len(doc.Hierarchy))
	fmt.Printf("Components: %d per frame\n", doc.Components)

	if len(doc.Bounds) > 0 {
		merged := doc.Bounds[0]
		for _, b := range doc.Bounds[1:] {
			for i := 0; i < 3; i++ {
				if b.Min[i] < merged.Min[i] {
					merged.Min[i] = b.Min[i]
				}
				if b.Max[i] > merged.Max[i] {
					merged.Max[i] = b.Max[i]
				}
			}
		}
		fmt.Printf("Bounds:     min %s max %s\n", fmtVec(merged.Min), fmtVec(merged.Max))
	}

	fmt.Println()
	fmt.Printf("  %-3s %-24s %6s %-18s %5s\n", "#", "joint", "parent", "channels", "start")
	for i, h := range doc.Hierarchy {
		fmt.Printf("  %-3d %-24s %6d %-18s %5d\n", i, h.Name, h.Parent, channelMask(h.Flags), h.StartIndex)
	}
	return nil
}

func cmdCheck(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: md5tool check <model.md5mesh> <anim.md5anim...>")
	}

	stack, err := mountRoots(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	m := mdl.New()
	if err := m.LoadMeshFS(stack, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("Model: %s (%d joints)\n\n", fs.Arg(0), m.JointCount())

	failed := 0
	for _, name := range fs.Args()[1:] {
		if err := m.LoadAnimationFS(stack, name); err != nil {
			fmt.Printf("  FAIL %s\n       %v\n", name, err)
			failed++
			continue
		}
		seq := m.Animation(m.AnimationCount() - 1)
		fmt.Printf("  OK   %s (%d frames @ %d fps)\n", name, seq.FrameCount(), seq.FrameRate())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d animations do not fit", failed, fs.NArg()-1)
	}
	return nil
}

func cmdMaterials(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("materials", flag.ExitOnError)
	limit := fs.Int("n", 0, "Limit output to N materials (0 = all)")
	verbose := fs.Bool("v", false, "Show every texture map")
	fs.Parse(args)

	stack, err := mountRoots(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	reg := material.NewRegistry(stack)
	n, err := reg.LoadScripts(cfg.Data.MaterialGlob)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Loaded %d material scripts (%d definitions)\n\n", n, reg.Len())

	pattern := ""
	if fs.NArg() > 0 {
		pattern = strings.ToLower(fs.Arg(0))
	}

	count := 0
	for _, name := range reg.Names() {
		if pattern != "" && !strings.Contains(strings.ToLower(name), pattern) {
			continue
		}
		def, _ := reg.Lookup(name)
		if *verbose {
			fmt.Println(name)
			fmt.Printf("  diffuse:  %s\n", def.Diffuse)
			if def.Specular != "" {
				fmt.Printf("  specular: %s\n", def.Specular)
			}
			if def.Normal != "" {
				fmt.Printf("  normal:   %s\n", def.Normal)
			}
			if def.Height != "" {
				fmt.Printf("  height:   %s (scale %g)\n", def.Height, def.HeightScale)
			}
		} else {
			fmt.Printf("%-52s %s\n", name, def.Diffuse)
		}
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}

	if pattern != "" {
		fmt.Fprintf(os.Stderr, "\n(%d materials matched)\n", count)
	}
	return nil
}

func cmdExport(cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "Output file, .glb or .gltf (default: model name with .glb)")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: md5tool export [-o out.glb] <model.md5mesh> [anim.md5anim...]")
	}

	stack, err := mountRoots(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	modelPath := fs.Arg(0)
	m := mdl.New()
	if err := m.LoadMeshFS(stack, modelPath); err != nil {
		return err
	}
	defer m.Close()

	for _, name := range fs.Args()[1:] {
		if err := m.LoadAnimationFS(stack, name); err != nil {
			return fmt.Errorf("animation %s: %w", name, err)
		}
	}

	// Missing textures degrade to the default material instead of failing
	// the export.
	if cfg.Export.EmbedTextures {
		reg := material.NewRegistry(stack)
		if _, err := reg.LoadScripts(cfg.Data.MaterialGlob); err != nil {
			return err
		}
		if err := m.AttachMaterials(reg); err != nil {
			log.Warn("some materials did not resolve", zap.Error(err))
		}
	}

	stem := strings.TrimSuffix(path.Base(modelPath), path.Ext(modelPath))
	target := *out
	if target == "" {
		target = stem + ".glb"
	}
	sceneName := cfg.Export.SceneName
	if sceneName == "" {
		sceneName = stem
	}

	opts := export.Options{
		Name:          sceneName,
		EmbedTextures: cfg.Export.EmbedTextures,
		Animations:    cfg.Export.Animations,
	}
	if err := export.Save(m, target, opts); err != nil {
		return err
	}

	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	clips := 0
	if cfg.Export.Animations {
		clips = m.AnimationCount()
	}
	fmt.Printf("Exported: %s (%.1f KB, %d meshes, %d joints, %d clips)\n",
		target, float64(info.Size())/1024, m.MeshCount(), m.JointCount(), clips)
	return nil
}
