package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

// SeedFile is the on-disk format of a seed file.
type SeedFile struct {
	Records []SeedRecord `yaml:"records"`
}

// SeedRecord is a record placed directly into a stage, bypassing intake.
type SeedRecord struct {
	ID         string          `yaml:"id"`
	Kind       model.Kind      `yaml:"kind"`
	Stage      model.Stage     `yaml:"stage"`
	Custodian  model.Custodian `yaml:"custodian"`
	Attributes map[string]any  `yaml:"attributes"`
	Notes      string          `yaml:"notes"`
	CreatedAt  time.Time       `yaml:"created_at"`
}

// seedActor is recorded as the author of every seeded Created entry.
var seedActor = model.ActorSnapshot{
	ID:   "system:seed",
	Name: "Seed Loader",
	Role: model.RoleAdminClerk,
}

// LoadSeedFile reads and decodes a seed file from disk.
func LoadSeedFile(path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()
	return DecodeSeed(f, SystemClock{})
}

// DecodeSeed parses seed YAML into records. Each record is checked against
// its kind's stage graph and gets a single Created history entry.
func DecodeSeed(r io.Reader, clock Clock) ([]model.Record, error) {
	var file SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}

	seen := make(map[recordKey]bool)
	out := make([]model.Record, 0, len(file.Records))
	for i, sr := range file.Records {
		rec, err := sr.toRecord(clock)
		if err != nil {
			return nil, fmt.Errorf("seed record %d (%s): %w", i, sr.ID, err)
		}
		key := recordKey{rec.Kind, rec.ID}
		if seen[key] {
			return nil, fmt.Errorf("seed record %d: duplicate %s %q", i, rec.Kind, rec.ID)
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out, nil
}

func (sr SeedRecord) toRecord(clock Clock) (model.Record, error) {
	if sr.ID == "" {
		return model.Record{}, fmt.Errorf("id is required")
	}
	g, ok := stagegraph.For(sr.Kind)
	if !ok {
		return model.Record{}, fmt.Errorf("unknown kind %q", sr.Kind)
	}
	if !g.Has(sr.Stage) {
		return model.Record{}, fmt.Errorf("stage %q is not part of the %s graph", sr.Stage, sr.Kind)
	}
	if !sr.Custodian.Department.Valid() {
		return model.Record{}, fmt.Errorf("unknown department %q", sr.Custodian.Department)
	}
	if !g.LegalCustodian(sr.Stage, sr.Custodian.Department) {
		return model.Record{}, fmt.Errorf("%s cannot hold a %s in %s", sr.Custodian.Department, sr.Kind, sr.Stage)
	}

	created := sr.CreatedAt.UTC()
	if sr.CreatedAt.IsZero() {
		created = clock.Now().UTC()
	}
	actor := seedActor
	actor.Department = sr.Custodian.Department

	return model.Record{
		ID:         sr.ID,
		Kind:       sr.Kind,
		Stage:      sr.Stage,
		Custodian:  sr.Custodian,
		Attributes: stagegraph.NormalizePayload(sr.Attributes),
		History: []model.AuditEntry{{
			ID:        fmt.Sprintf("%s-%s-0", sr.Kind, sr.ID),
			Seq:       1,
			Stage:     sr.Stage,
			Actor:     actor,
			Action:    model.AuditCreated,
			Timestamp: created,
			Notes:     sr.Notes,
		}},
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}, nil
}

// Seed creates each record in repo. Records that already exist are left
// untouched, so seeding a persistent store twice is harmless. It returns the
// number of records created.
func Seed(ctx context.Context, repo Repository, recs []model.Record) (int, error) {
	created := 0
	for _, rec := range recs {
		err := repo.Create(ctx, rec)
		switch {
		case err == nil:
			created++
		case model.IsCode(err, model.ErrConflict):
		default:
			return created, fmt.Errorf("seeding %s %q: %w", rec.Kind, rec.ID, err)
		}
	}
	return created, nil
}
