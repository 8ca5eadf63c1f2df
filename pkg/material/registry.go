package material

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/vigilem/md5model/pkg/formats"
)

// Registry errors.
var (
	ErrUnknownMaterial = errors.New("unknown material")
	ErrStillReferenced = errors.New("material still referenced")
)

// Material is a resolved shader: its definition's texture maps, decoded.
// Secondary maps may be nil when their files are absent; the diffuse map is
// always present.
type Material struct {
	Name        string
	Diffuse     *Texture
	Specular    *Texture
	Normal      *Texture
	Height      *Texture
	HeightScale float32

	refs int
}

// RefCount returns the number of outstanding acquisitions.
func (m *Material) RefCount() int { return m.refs }

// Registry maps shader names to decoded materials. Definitions come from
// .mtr scripts; textures are decoded on first acquire and shared by
// reference count until the last release. A Registry is not safe for
// concurrent use.
type Registry struct {
	fsys  fs.FS
	defs  map[string]formats.MaterialDef
	cache map[string]*Material
}

// NewRegistry returns an empty registry reading textures from fsys.
func NewRegistry(fsys fs.FS) *Registry {
	return &Registry{
		fsys:  fsys,
		defs:  make(map[string]formats.MaterialDef),
		cache: make(map[string]*Material),
	}
}

// AddDefs merges material definitions. A redefinition replaces the earlier
// one but leaves already-acquired materials untouched.
func (r *Registry) AddDefs(defs []formats.MaterialDef) {
	for _, def := range defs {
		r.defs[def.Name] = def
	}
}

// LoadScript parses one .mtr script and merges its definitions.
func (r *Registry) LoadScript(data []byte) error {
	defs, err := formats.ParseMaterials(data)
	if err != nil {
		return err
	}
	r.AddDefs(defs)
	return nil
}

// LoadScripts parses every .mtr script matching the glob pattern and merges
// the definitions, returning how many were added.
func (r *Registry) LoadScripts(pattern string) (int, error) {
	names, err := fs.Glob(r.fsys, pattern)
	if err != nil {
		return 0, fmt.Errorf("material glob %q: %w", pattern, err)
	}
	added := 0
	for _, name := range names {
		data, err := fs.ReadFile(r.fsys, name)
		if err != nil {
			return added, fmt.Errorf("reading %s: %w", name, err)
		}
		defs, err := formats.ParseMaterials(data)
		if err != nil {
			return added, fmt.Errorf("%s: %w", name, err)
		}
		r.AddDefs(defs)
		added += len(defs)
	}
	return added, nil
}

// Lookup returns the raw definition for a shader name.
func (r *Registry) Lookup(name string) (formats.MaterialDef, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Len returns the number of known definitions.
func (r *Registry) Len() int { return len(r.defs) }

// Cached returns the number of currently decoded materials.
func (r *Registry) Cached() int { return len(r.cache) }

// Names returns every known shader name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Acquire resolves a shader name to a decoded material and takes a
// reference. The diffuse map must decode for the acquire to succeed;
// specular, normal and height maps are optional and stay nil when their
// files are missing or broken.
func (r *Registry) Acquire(name string) (*Material, error) {
	if mat, ok := r.cache[name]; ok {
		mat.refs++
		return mat, nil
	}
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMaterial, name)
	}
	if def.Diffuse == "" {
		return nil, fmt.Errorf("%w: material %q declares no diffuse map", ErrMissingTexture, name)
	}
	diffuse, err := DecodeTexture(r.fsys, def.Diffuse)
	if err != nil {
		return nil, fmt.Errorf("material %q: %w", name, err)
	}

	mat := &Material{
		Name:        name,
		Diffuse:     diffuse,
		HeightScale: def.HeightScale,
		refs:        1,
	}
	if def.Specular != "" {
		mat.Specular, _ = DecodeTexture(r.fsys, def.Specular)
	}
	if def.Normal != "" {
		mat.Normal, _ = DecodeTexture(r.fsys, def.Normal)
	}
	if def.Height != "" {
		mat.Height, _ = DecodeTexture(r.fsys, def.Height)
	}
	r.cache[name] = mat
	return mat, nil
}

// Release returns one reference. When the last reference goes, the decoded
// textures are dropped from the cache and the next acquire decodes afresh.
func (r *Registry) Release(m *Material) {
	if m == nil {
		return
	}
	cached, ok := r.cache[m.Name]
	if !ok || cached != m {
		return
	}
	m.refs--
	if m.refs <= 0 {
		delete(r.cache, m.Name)
	}
}

// Close verifies nothing is still referenced and clears the registry.
func (r *Registry) Close() error {
	for name, mat := range r.cache {
		if mat.refs > 0 {
			return fmt.Errorf("%w: %q (%d refs)", ErrStillReferenced, name, mat.refs)
		}
	}
	r.defs = make(map[string]formats.MaterialDef)
	r.cache = make(map[string]*Material)
	return nil
}
