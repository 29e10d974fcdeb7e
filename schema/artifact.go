package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// ArtifactVersion is bumped whenever the artifact layout changes.
const ArtifactVersion = 1

// Artifact is the persisted feature-schema artifact. It carries the encodings
// the model was trained with so serving never keeps its own copy.
type Artifact struct {
	Version   int           `json:"version"`
	RunID     string        `json:"run_id,omitempty"`
	ModelType string        `json:"model_type"`
	Target    string        `json:"target"`
	Features  FeatureSchema `json:"features"`
	Encodings EncodingTable `json:"encodings"`
	TrainedAt time.Time     `json:"trained_at"`
}

// Validate checks that every encoded column is a feature.
func (a *Artifact) Validate() error {
	if a.Version != ArtifactVersion {
		return eris.Wrapf(ErrInvalidSchema, "unsupported artifact version %d", a.Version)
	}
	if a.Features.Len() == 0 {
		return eris.Wrap(ErrInvalidSchema, "artifact has no features")
	}
	for _, col := range a.Encodings.Columns() {
		if _, ok := a.Features.Index(col); !ok {
			return eris.Wrapf(ErrInvalidSchema, "encoding for %q which is not a feature", col)
		}
	}
	return a.Encodings.validate()
}

func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode schema artifact")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create artifact dir %s", dir)
		}
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return eris.Wrapf(err, "write schema artifact %s", path)
	}
	return nil
}

func LoadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read schema artifact %s", path)
	}
	var a Artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, eris.Wrapf(err, "decode schema artifact %s", path)
	}
	if a.Encodings == nil {
		a.Encodings = EncodingTable{}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
