package reference

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/smellreg/smellreg/internal/domain"
)

//go:embed data/*.yaml
var defaultData embed.FS

// document is the on-disk shape of one dataset file.
type document struct {
	Metadata    Metadata                                     `yaml:"metadata"`
	Markets     map[domain.Market]map[domain.Family][]string `yaml:"markets"`
	Lists       []listDoc                                    `yaml:"lists"`
	Ingredients []domain.Classification                      `yaml:"ingredients"`
}

type listDoc struct {
	ID         string                        `yaml:"id"`
	Family     domain.Family                 `yaml:"family"`
	Name       string                        `yaml:"name"`
	Reference  string                        `yaml:"reference"`
	Categories map[domain.ProductType]string `yaml:"categories"`
	Limits     map[string]float64            `yaml:"limits"`
	Entries    []entryDoc                    `yaml:"entries"`
}

type entryDoc struct {
	domain.RuleEntry `yaml:",inline"`

	// Limits holds per-category limits for concentration lists.
	Limits map[string]float64 `yaml:"limits"`
}

// File is one named dataset source.
type File struct {
	Name string
	Data []byte
}

// Default returns the dataset compiled into the binary.
func Default() (*Snapshot, error) {
	files, err := readFS(defaultData, "data")
	if err != nil {
		return nil, err
	}
	return Parse(files...)
}

// LoadDir parses every *.yaml and *.yml file in dir.
func LoadDir(dir string) (*Snapshot, error) {
	files, err := readFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("read reference dir %q: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("reference dir %q contains no yaml files", dir)
	}
	return Parse(files...)
}

func readFS(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []File
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, e.Name())))
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: e.Name(), Data: data})
	}
	return files, nil
}

// Parse merges and compiles dataset files into a Snapshot. Files are
// processed in name order. Any malformed entry rejects the whole dataset.
func Parse(files ...File) (*Snapshot, error) {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		loadedAt:    time.Now().UTC(),
		markets:     make(map[domain.Market]map[domain.Family][]string),
		lists:       make(map[string]*List),
		ingredients: make(map[string]domain.Classification),
	}

	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.Name))
		h.Write(f.Data)

		var doc document
		if err := yaml.Unmarshal(f.Data, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		if err := snap.merge(env, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
	}

	if snap.Metadata.Revision == "" {
		return nil, errors.New("dataset has no metadata.revision")
	}
	snap.revision = snap.Metadata.Revision + "+" + hex.EncodeToString(h.Sum(nil))[:8]
	return snap, nil
}

// Dangling returns program references to lists absent from the dataset,
// formatted as market/family/list.
func (s *Snapshot) Dangling() []string {
	var out []string
	for m, fams := range s.markets {
		for f, ids := range fams {
			for _, id := range ids {
				if _, ok := s.lists[id]; !ok {
					out = append(out, fmt.Sprintf("%s/%s/%s", m, f, id))
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) merge(env *cel.Env, doc *document) error {
	if doc.Metadata.Revision != "" {
		if s.Metadata.Revision != "" && s.Metadata.Revision != doc.Metadata.Revision {
			return fmt.Errorf("conflicting revisions %q and %q", s.Metadata.Revision, doc.Metadata.Revision)
		}
		s.Metadata = doc.Metadata
	}

	for m, fams := range doc.Markets {
		if !m.Known() {
			return fmt.Errorf("unknown market %q", m)
		}
		if s.markets[m] == nil {
			s.markets[m] = make(map[domain.Family][]string)
		}
		for f, ids := range fams {
			if !f.Known() {
				return fmt.Errorf("market %s: unknown family %q", m, f)
			}
			for _, id := range ids {
				if !slices.Contains(s.markets[m][f], id) {
					s.markets[m][f] = append(s.markets[m][f], id)
				}
			}
		}
	}

	for _, ld := range doc.Lists {
		l, err := compileList(env, ld)
		if err != nil {
			return err
		}
		if _, dup := s.lists[l.ID]; dup {
			return fmt.Errorf("duplicate list %s", l.ID)
		}
		s.lists[l.ID] = l
	}

	for _, c := range doc.Ingredients {
		if !domain.ValidCAS(c.CAS) {
			return fmt.Errorf("ingredient classification: malformed CAS %q", c.CAS)
		}
		if _, dup := s.ingredients[c.CAS]; dup {
			return fmt.Errorf("ingredient classification: duplicate CAS %s", c.CAS)
		}
		if c.VOCPercent < 0 || c.VOCPercent > 100 {
			return fmt.Errorf("ingredient %s: voc_percent %g outside 0-100", c.CAS, c.VOCPercent)
		}
		s.ingredients[c.CAS] = c
	}
	return nil
}

func compileList(env *cel.Env, ld listDoc) (*List, error) {
	if ld.ID == "" {
		return nil, errors.New("list without id")
	}
	if !ld.Family.Known() {
		return nil, fmt.Errorf("list %s: unknown family %q", ld.ID, ld.Family)
	}
	for pt := range ld.Categories {
		if !pt.Known() {
			return nil, fmt.Errorf("list %s: unknown product type %q", ld.ID, pt)
		}
	}

	l := &List{
		ID:         ld.ID,
		Name:       ld.Name,
		Family:     ld.Family,
		Reference:  ld.Reference,
		categories: ld.Categories,
		limits:     ld.Limits,
		entries:    make(map[string][]*Rule),
	}

	for i, ed := range ld.Entries {
		rules, err := expandEntry(ld, ed)
		if err != nil {
			return nil, fmt.Errorf("list %s entry %d: %w", ld.ID, i, err)
		}
		for _, e := range rules {
			r := &Rule{RuleEntry: e}
			if e.Condition != "" {
				prg, err := compileCondition(env, e.Condition)
				if err != nil {
					return nil, fmt.Errorf("list %s entry %s: %w", ld.ID, e.CAS, err)
				}
				r.program = prg
			}
			l.entries[e.CAS] = append(l.entries[e.CAS], r)
			l.size++
		}
	}
	return l, nil
}

// expandEntry validates an entry and fans per-category limits out into one
// RuleEntry per category.
func expandEntry(ld listDoc, ed entryDoc) ([]domain.RuleEntry, error) {
	e := ed.RuleEntry
	e.Family = ld.Family
	e.List = ld.ID
	if e.Reference == "" {
		e.Reference = ld.Reference
	}
	if e.Unit == "" {
		e.Unit = domain.UnitProduct
	}
	if e.Unit != domain.UnitProduct && e.Unit != domain.UnitFormula {
		return nil, fmt.Errorf("unknown unit %q", e.Unit)
	}
	if !domain.ValidCAS(e.CAS) {
		return nil, fmt.Errorf("malformed CAS %q", e.CAS)
	}
	if ld.Family == domain.FamilyAllergen {
		if e.Class == "" {
			e.Class = domain.ClassDisclosure
		}
		if e.Class != domain.ClassDisclosure {
			return nil, fmt.Errorf("%s: allergen entries are disclosure-only, got class %q", e.CAS, e.Class)
		}
	}
	switch e.Class {
	case domain.ClassProhibited, domain.ClassDisclosure:
	case domain.ClassRestricted:
		if e.Threshold <= 0 && len(ed.Limits) == 0 {
			return nil, fmt.Errorf("%s: restricted entry without a limit", e.CAS)
		}
	default:
		return nil, fmt.Errorf("%s: unknown severity class %q", e.CAS, e.Class)
	}
	if e.Threshold < 0 {
		return nil, fmt.Errorf("%s: negative threshold", e.CAS)
	}

	if len(ed.Limits) == 0 {
		return []domain.RuleEntry{e}, nil
	}

	cats := make([]string, 0, len(ed.Limits))
	for c := range ed.Limits {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	out := make([]domain.RuleEntry, 0, len(cats))
	for _, c := range cats {
		if ed.Limits[c] <= 0 {
			return nil, fmt.Errorf("%s: category %s limit must be positive", e.CAS, c)
		}
		ce := e
		ce.Category = c
		ce.Threshold = ed.Limits[c]
		out = append(out, ce)
	}
	return out, nil
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("market", cel.StringType),
		cel.Variable("product_type", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("leave_on", cel.BoolType),
		cel.Variable("concentration", cel.DoubleType),
		cel.Variable("formula_percent", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compileCondition(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expr, err)
	}
	return prg, nil
}
