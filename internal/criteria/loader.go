package criteria

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var embedded embed.FS

type stopFile struct {
	Criteria []StopCriterion `yaml:"criteria"`
}

type startFile struct {
	Criteria []StartCriterion `yaml:"criteria"`
}

type drugsFile struct {
	Drugs []Drug `yaml:"drugs"`
}

type herbsFile struct {
	Herbs []Herb `yaml:"herbs"`
}

type interactionsFile struct {
	Interactions []Interaction `yaml:"interactions"`
}

type effectsFile struct {
	Rules []SimulationRule `yaml:"rules"`
	Hints []EffectHint     `yaml:"hints"`
}

type taperFile struct {
	Profiles []TaperProfile `yaml:"profiles"`
}

type ttbFile struct {
	TimeToBenefit []TimeToBenefit `yaml:"time_to_benefit"`
}

type sexRiskFile struct {
	SexRisks []SexRisk `yaml:"sex_risks"`
}

// LoadEmbedded builds a repository from the data compiled into the binary.
func LoadEmbedded() (*Repository, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, fmt.Errorf("open embedded criteria: %w", err)
	}
	return loadFS(sub, "embedded")
}

// LoadDir builds a repository from YAML files on disk. The directory must
// hold the same file set as the embedded data.
func LoadDir(dir string) (*Repository, error) {
	return loadFS(os.DirFS(dir), dir)
}

func loadFS(fsys fs.FS, source string) (*Repository, error) {
	ds, err := ReadDataset(fsys)
	if err != nil {
		return nil, err
	}
	repo, err := New(ds)
	if err != nil {
		var die *DataIntegrityError
		if errors.As(err, &die) {
			die.Source = source
		}
		return nil, err
	}
	return repo, nil
}

// ReadDataset decodes every table file from fsys without validating it.
func ReadDataset(fsys fs.FS) (Dataset, error) {
	var (
		ds    Dataset
		stop  stopFile
		start startFile
		drugs drugsFile
		herbs herbsFile
		inter interactionsFile
		eff   effectsFile
		taper taperFile
		ttb   ttbFile
		sex   sexRiskFile
	)

	files := []struct {
		name string
		out  any
	}{
		{"stop.yaml", &stop},
		{"start.yaml", &start},
		{"drugs.yaml", &drugs},
		{"herbs.yaml", &herbs},
		{"interactions.yaml", &inter},
		{"effects.yaml", &eff},
		{"taper.yaml", &taper},
		{"ttb.yaml", &ttb},
		{"sex_risks.yaml", &sex},
	}
	for _, f := range files {
		raw, err := fs.ReadFile(fsys, f.name)
		if err != nil {
			return ds, fmt.Errorf("read %s: %w", f.name, err)
		}
		if err := yaml.Unmarshal(raw, f.out); err != nil {
			return ds, fmt.Errorf("parse %s: %w", f.name, err)
		}
	}

	ds.Stop = stop.Criteria
	ds.Start = start.Criteria
	ds.Drugs = drugs.Drugs
	ds.Herbs = herbs.Herbs
	ds.Interactions = inter.Interactions
	ds.SimulationRules = eff.Rules
	ds.EffectHints = eff.Hints
	ds.TaperProfiles = taper.Profiles
	ds.TimeToBenefit = ttb.TimeToBenefit
	ds.SexRisks = sex.SexRisks
	return ds, nil
}

// EmbeddedDataset returns the compiled-in tables, used when another source
// replaces only part of them.
func EmbeddedDataset() (Dataset, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return Dataset{}, fmt.Errorf("open embedded criteria: %w", err)
	}
	return ReadDataset(sub)
}
