package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// progressEnvelopeSchema describes GET /ocr/progress/{job_id}.
const progressEnvelopeSchema = `{
  "type": "object",
  "required": ["progress"],
  "properties": {
    "status": {"type": "string"},
    "progress": {
      "type": "object",
      "required": ["step"],
      "properties": {
        "step": {"type": "integer", "minimum": 0},
        "current_step_name": {"type": ["string", "null"]},
        "description": {"type": ["string", "null"]},
        "images": {
          "type": ["object", "null"],
          "additionalProperties": {"type": ["string", "null"]}
        },
        "completed": {"type": ["boolean", "null"]}
      }
    }
  }
}`

var progressSchema = mustCompileSchema("progress.json", progressEnvelopeSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

type progressEnvelope struct {
	Status   string        `json:"status"`
	Progress *progressWire `json:"progress"`
}

type progressWire struct {
	Step            int                `json:"step"`
	CurrentStepName *string            `json:"current_step_name"`
	Description     *string            `json:"description"`
	Images          map[string]*string `json:"images"`
	Completed       *bool              `json:"completed"`
}

// decodeProgress validates the raw envelope and converts it to a snapshot.
// Image payloads are normalized here and nowhere else.
func decodeProgress(body []byte) (*models.ProgressSnapshot, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProgress, err)
	}
	if err := progressSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProgress, err)
	}

	var env progressEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProgress, err)
	}
	if env.Progress == nil {
		return nil, fmt.Errorf("%w: progress is null", ErrMalformedProgress)
	}
	return toSnapshot(env.Progress), nil
}

func toSnapshot(p *progressWire) *models.ProgressSnapshot {
	snap := &models.ProgressSnapshot{
		Step:        models.Step(p.Step),
		StepName:    deref(p.CurrentStepName),
		Description: deref(p.Description),
		Images:      make(map[models.Step]models.ImageRef, len(p.Images)),
		Completed:   p.Completed != nil && *p.Completed,
	}
	for key, raw := range p.Images {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || raw == nil {
			continue
		}
		if ref := models.NormalizeImage(*raw); !ref.IsZero() {
			snap.Images[models.Step(n)] = ref
		}
	}
	return snap
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
