package formats

import (
	"fmt"
	"os"
)

// MaterialDef is one material block from a .mtr script, reduced to the
// texture maps the model pipeline consumes. Stage blocks and unknown
// keywords are skipped.
type MaterialDef struct {
	Name        string
	Diffuse     string
	Specular    string
	Normal      string
	Height      string
	HeightScale float32
}

// ParseMaterials parses .mtr material script data. Declarations that are not
// material blocks (tables, guides, skins) are skipped, as is any keyword the
// pipeline does not consume.
func ParseMaterials(data []byte) ([]MaterialDef, error) {
	toks, err := tokenize(data)
	if err != nil {
		return nil, err
	}
	r := &tokenReader{toks: toks}

	var defs []MaterialDef
	for !r.atEOF() {
		tok := r.next()
		if tok.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected declaration, got %s at line %d", ErrSyntax, tok, tok.line)
		}
		if tok.text == "guide" {
			if err := skipGuide(r); err != nil {
				return nil, err
			}
			continue
		}

		name := tok.text
		material := true
		for r.peek().kind != tokLBrace {
			if r.atEOF() {
				return nil, fmt.Errorf("%w: declaration %q has no body", ErrSyntax, name)
			}
			// A token between the name and the brace means this is some
			// other declaration type (table, skin, particle).
			r.next()
			material = false
		}
		r.next()

		if !material {
			if err := skipBlock(r); err != nil {
				return nil, err
			}
			continue
		}
		def, err := parseMaterialBlock(r, name)
		if err != nil {
			return nil, fmt.Errorf("material %q: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// parseMaterialBlock parses a material body up to its closing brace. Only the
// texture map keywords are interpreted; nested stage blocks are skipped.
func parseMaterialBlock(r *tokenReader, name string) (MaterialDef, error) {
	def := MaterialDef{Name: name}
	for {
		tok := r.next()
		switch tok.kind {
		case tokRBrace:
			return def, nil
		case tokEOF:
			return def, fmt.Errorf("%w: unterminated material block", ErrSyntax)
		case tokLBrace:
			if err := skipBlock(r); err != nil {
				return def, err
			}
		case tokIdent:
			var err error
			switch tok.text {
			case "diffusemap":
				def.Diffuse, err = texturePath(r)
			case "specularmap":
				def.Specular, err = texturePath(r)
			case "bumpmap":
				err = parseBumpMap(r, &def)
			}
			if err != nil {
				return def, err
			}
		}
	}
}

// parseBumpMap handles the three bumpmap forms:
//
//	bumpmap <normalmap>
//	bumpmap heightmap ( <heightmap>, <scale> )
//	bumpmap addnormals ( <normalmap>, heightmap ( <heightmap>, <scale> ) )
func parseBumpMap(r *tokenReader, def *MaterialDef) error {
	tok := r.peek()
	if tok.kind == tokIdent && tok.text == "heightmap" {
		r.next()
		return parseHeightMap(r, def)
	}
	if tok.kind == tokIdent && tok.text == "addnormals" {
		r.next()
		if _, err := r.expect(tokLParen, `"("`); err != nil {
			return err
		}
		normal, err := texturePath(r)
		if err != nil {
			return err
		}
		def.Normal = normal
		if _, err := r.expect(tokComma, `","`); err != nil {
			return err
		}
		if err := r.keyword("heightmap"); err != nil {
			return err
		}
		if err := parseHeightMap(r, def); err != nil {
			return err
		}
		_, err = r.expect(tokRParen, `")"`)
		return err
	}
	normal, err := texturePath(r)
	if err != nil {
		return err
	}
	def.Normal = normal
	return nil
}

// parseHeightMap parses "( <heightmap>, <scale> )".
func parseHeightMap(r *tokenReader, def *MaterialDef) error {
	if _, err := r.expect(tokLParen, `"("`); err != nil {
		return err
	}
	height, err := texturePath(r)
	if err != nil {
		return err
	}
	def.Height = height
	if _, err := r.expect(tokComma, `","`); err != nil {
		return err
	}
	scale, err := r.float()
	if err != nil {
		return err
	}
	def.HeightScale = scale
	_, err = r.expect(tokRParen, `")"`)
	return err
}

// texturePath accepts a bare or quoted texture path.
func texturePath(r *tokenReader) (string, error) {
	if r.peek().kind == tokString {
		return r.quoted()
	}
	return r.ident()
}

// skipBlock consumes a balanced brace block whose opening brace has already
// been read.
func skipBlock(r *tokenReader) error {
	depth := 1
	for depth > 0 {
		switch r.next().kind {
		case tokLBrace:
			depth++
		case tokRBrace:
			depth--
		case tokEOF:
			return fmt.Errorf("%w: unterminated block", ErrSyntax)
		}
	}
	return nil
}

// skipGuide consumes a brace-less "guide <name> <template>(<args>)" line.
func skipGuide(r *tokenReader) error {
	if _, err := r.ident(); err != nil {
		return err
	}
	if _, err := r.ident(); err != nil {
		return err
	}
	if _, err := r.expect(tokLParen, `"("`); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		switch r.next().kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
		case tokEOF:
			return fmt.Errorf("%w: unterminated guide", ErrSyntax)
		}
	}
	return nil
}

// ParseMaterialsFile parses a .mtr file from disk.
func ParseMaterialsFile(path string) ([]MaterialDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading material file: %w", err)
	}
	return ParseMaterials(data)
}
