package importer

import (
	"bytes"
	_ "embed"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reconcile/internal/capability"
	"github.com/roach88/reconcile/internal/diff"
	"github.com/roach88/reconcile/internal/identity"
	"github.com/roach88/reconcile/internal/scope"
	"github.com/roach88/reconcile/internal/value"
	"github.com/roach88/reconcile/internal/writer"
)

//go:embed profile.cue
var profileSchema string

// ErrInvalidProfile reports a profile that cannot drive a run.
var ErrInvalidProfile = errors.New("importer: invalid profile")

// Profile is the configuration of one import run.
//
// Pointer fields distinguish "unset" from the zero value so defaults apply only
// when a profile is silent.
type Profile struct {
	EntityType    string `json:"entity_type" yaml:"entity_type"`
	EntityLogName string `json:"entity_log_name,omitempty" yaml:"entity_log_name"`
	ElementKey    string `json:"element_key" yaml:"element_key"`
	ChunkSize     *int   `json:"chunk_size,omitempty" yaml:"chunk_size"`

	UpdateAdminScope          bool  `json:"update_admin_scope,omitempty" yaml:"update_admin_scope"`
	DryRun                    bool  `json:"dry_run,omitempty" yaml:"dry_run"`
	IgnoreUnknownAttributes   *bool `json:"ignore_unknown_attributes,omitempty" yaml:"ignore_unknown_attributes"`
	UnknownAttributesWarnOnly bool  `json:"unknown_attributes_warn_only,omitempty" yaml:"unknown_attributes_warn_only"`

	AddElementKeyToCreateData *bool    `json:"add_element_key_to_create_data,omitempty" yaml:"add_element_key_to_create_data"`
	CreateAttributes          []string `json:"create_attributes,omitempty" yaml:"create_attributes"`

	SpecialAttributes map[string]diff.SpecialType `json:"special_attributes,omitempty" yaml:"special_attributes"`
	IgnoreAttributes  []string                    `json:"ignore_attributes,omitempty" yaml:"ignore_attributes"`

	ForceAdminAttributes    []string       `json:"force_admin_attributes,omitempty" yaml:"force_admin_attributes"`
	ProhibitAdminAttributes []string       `json:"prohibit_admin_attributes,omitempty" yaml:"prohibit_admin_attributes"`
	DefaultAdminValues      map[string]any `json:"default_admin_values,omitempty" yaml:"default_admin_values"`

	CreateDateAttributes []string `json:"create_date_attributes,omitempty" yaml:"create_date_attributes"`
	UpdateDateAttributes []string `json:"update_date_attributes,omitempty" yaml:"update_date_attributes"`

	AssociatedItems        map[string]string `json:"associated_items,omitempty" yaml:"associated_items"`
	AssociatedPreparers    map[string]string `json:"associated_preparers,omitempty" yaml:"associated_preparers"`
	ReplaceAttributes      map[string]string `json:"replace_attributes,omitempty" yaml:"replace_attributes"`
	SpecialAttributeModels map[string]string `json:"special_attribute_models,omitempty" yaml:"special_attribute_models"`

	defaultAdmin map[string]value.Value
}

// LoadProfile reads a profile file. The extension selects the format:
// .cue is validated against #Profile, .yaml, .yml and .json are decoded strictly.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read profile")
	}

	var p *Profile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		p, err = ParseCUEProfile(data, path)
	case ".yaml", ".yml", ".json":
		p, err = ParseYAMLProfile(bytes.NewReader(data))
	default:
		return nil, errors.WithHint(
			errors.Newf("unsupported profile format %q", ext),
			"use a .cue, .yaml, .yml or .json file")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load profile %s", path)
	}
	return p, nil
}

// ParseCUEProfile compiles src, unifies it with #Profile and decodes the result.
// filename is used in error positions.
func ParseCUEProfile(src []byte, filename string) (*Profile, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(profileSchema, cue.Filename("profile.cue"))
	if err := schema.Err(); err != nil {
		return nil, errors.Wrap(err, "compile profile schema")
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, errors.Mark(formatCUEError(err), ErrInvalidProfile)
	}
	unified := schema.LookupPath(cue.ParsePath("#Profile")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, errors.Mark(formatCUEError(err), ErrInvalidProfile)
	}

	var p Profile
	if err := unified.Decode(&p); err != nil {
		return nil, errors.Mark(formatCUEError(err), ErrInvalidProfile)
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseYAMLProfile decodes a YAML or JSON profile. Unknown fields are rejected.
func ParseYAMLProfile(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Profile
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Mark(errors.New("empty profile"), ErrInvalidProfile)
		}
		return nil, errors.Mark(errors.Wrap(err, "decode profile"), ErrInvalidProfile)
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// formatCUEError returns the first CUE error with its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pos := positions[0]
		return errors.Newf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), first.Error())
	}
	return errors.New(first.Error())
}

// Always-on defaults merged under the profile's own settings.
var (
	defaultSpecial = map[string]diff.SpecialType{
		identity.EntityIDCode: diff.SpecialInt,
		scope.StoreIDCode:     diff.SpecialInt,
	}
	defaultIgnore = []string{
		identity.EntityIDCode,
		scope.WebsiteIDCode,
		scope.WebsiteCode,
		scope.StoreIDCode,
	}
)

// Normalize validates the profile and fills in defaults. It is idempotent.
func (p *Profile) Normalize() error {
	if p.EntityType == "" {
		return errors.Mark(errors.New("entity_type is required"), ErrInvalidProfile)
	}
	if p.ElementKey == "" {
		return errors.Mark(errors.New("element_key is required"), ErrInvalidProfile)
	}
	if p.EntityLogName == "" {
		p.EntityLogName = p.EntityType
	}
	if p.ChunkSize == nil {
		size := writer.DefaultChunkSize
		p.ChunkSize = &size
	}
	if *p.ChunkSize < 0 {
		return errors.Mark(errors.Newf("chunk_size must not be negative, got %d", *p.ChunkSize), ErrInvalidProfile)
	}
	if p.IgnoreUnknownAttributes == nil {
		p.IgnoreUnknownAttributes = boolPtr(true)
	}
	if p.AddElementKeyToCreateData == nil {
		p.AddElementKeyToCreateData = boolPtr(true)
	}

	special := maps.Clone(defaultSpecial)
	maps.Copy(special, p.SpecialAttributes)
	for code, t := range special {
		if !t.Valid() {
			return errors.Mark(errors.Newf("special attribute %s: unknown type %q", code, t), ErrInvalidProfile)
		}
	}
	p.SpecialAttributes = special

	p.IgnoreAttributes = union(defaultIgnore, p.IgnoreAttributes)

	p.defaultAdmin = make(map[string]value.Value, len(p.DefaultAdminValues))
	for code, raw := range p.DefaultAdminValues {
		v, err := value.FromAny(raw)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "default admin value %s", code), ErrInvalidProfile)
		}
		p.defaultAdmin[code] = v
	}
	return nil
}

// Bindings returns the capability bindings the profile declares.
func (p *Profile) Bindings() capability.Bindings {
	return capability.Bindings{
		Associated: p.AssociatedItems,
		Preparers:  p.AssociatedPreparers,
		Replace:    p.ReplaceAttributes,
		Special:    p.SpecialAttributeModels,
	}
}

func (p *Profile) diffOptions() diff.Options {
	return diff.Options{
		EntityType:         p.EntityType,
		Special:            p.SpecialAttributes,
		ForceAdmin:         set(p.ForceAdminAttributes),
		ProhibitAdmin:      set(p.ProhibitAdminAttributes),
		DefaultAdminValues: p.defaultAdmin,
	}
}

func (p *Profile) writerConfig() writer.Config {
	return writer.Config{
		EntityType:           p.EntityType,
		EntityLogName:        p.EntityLogName,
		ElementKey:           p.ElementKey,
		ChunkSize:            *p.ChunkSize,
		DryRun:               p.DryRun,
		AddElementKey:        *p.AddElementKeyToCreateData,
		CreateAttributes:     p.CreateAttributes,
		CreateDateAttributes: p.CreateDateAttributes,
		UpdateDateAttributes: p.UpdateDateAttributes,
	}
}

func boolPtr(b bool) *bool { return &b }

func set(codes []string) map[string]bool {
	out := make(map[string]bool, len(codes))
	for _, c := range codes {
		out[c] = true
	}
	return out
}

func union(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, list := range [][]string{base, extra} {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
