package shgat

import (
	"encoding/json"
	"fmt"

	"github.com/shgat/runtime/blas"
	"github.com/shgat/runtime/messagepassing"
)

// denseDTO is the wire shape for a blas.Dense: row-major data plus its
// declared dimensions, so a shape mismatch on import is detected before
// any tensor is touched.
type denseDTO struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func toDenseDTO(d *blas.Dense) denseDTO {
	return denseDTO{Rows: d.Rows(), Cols: d.Cols(), Data: append([]float64(nil), d.RawRowMajor()...)}
}

func fromDenseDTO(dto denseDTO) (*blas.Dense, error) {
	return blas.NewDenseFromSlice(dto.Rows, dto.Cols, append([]float64(nil), dto.Data...))
}

type headDTO struct {
	WChild    denseDTO  `json:"w_child"`
	WParent   denseDTO  `json:"w_parent"`
	AUpward   []float64 `json:"a_upward"`
	ADownward []float64 `json:"a_downward"`
}

func toHeadDTO(h messagepassing.HeadParams) headDTO {
	return headDTO{
		WChild: toDenseDTO(h.WChild), WParent: toDenseDTO(h.WParent),
		AUpward:   append([]float64(nil), h.AUpward...),
		ADownward: append([]float64(nil), h.ADownward...),
	}
}

func fromHeadDTO(dto headDTO) (messagepassing.HeadParams, error) {
	wc, err := fromDenseDTO(dto.WChild)
	if err != nil {
		return messagepassing.HeadParams{}, err
	}
	wp, err := fromDenseDTO(dto.WParent)
	if err != nil {
		return messagepassing.HeadParams{}, err
	}

	return messagepassing.HeadParams{
		WChild: wc, WParent: wp,
		AUpward:   append([]float64(nil), dto.AUpward...),
		ADownward: append([]float64(nil), dto.ADownward...),
	}, nil
}

type scoringHeadDTO struct {
	WQ denseDTO `json:"w_q"`
	WK denseDTO `json:"w_k"`
}

// Blob is the JSON-serializable parameter export (§4.3 "Parameter ops"),
// including adaptive head metadata and a schema version so ImportParams
// can reject a stale shape outright (§7 ParamSchemaMismatch, §12).
type Blob struct {
	SchemaVersion int              `json:"schema_version"`
	D             int              `json:"d"`
	MaxLevel      int              `json:"max_level"`
	ScoringDim    int              `json:"scoring_dim"`
	Heads         HeadConfig       `json:"heads"`
	V0            []headDTO        `json:"v0"`
	Up            map[string][]headDTO `json:"up"`
	Down          map[string][]headDTO `json:"down"`
	V2VResidual   float64          `json:"v2v_residual_logit"`
	V2VTemp       float64          `json:"v2v_temperature_logit"`
	WIntent       denseDTO         `json:"w_intent"`
	Scoring       []scoringHeadDTO `json:"scoring"`
	UpdatedAtUnix int64            `json:"updated_at_unix"`
}

// ExportParams serializes p into the schema-versioned JSON blob used by
// the parameter store and the trainer subprocess's stdin document.
func ExportParams(p *Params, updatedAtUnix int64) ([]byte, error) {
	blob := Blob{
		SchemaVersion: SchemaVersion,
		D:             p.D,
		MaxLevel:      p.MaxLevel,
		ScoringDim:    p.ScoringDim,
		Heads:         p.Heads,
		V0:            toHeadDTOs(p.V0),
		Up:            make(map[string][]headDTO, len(p.Up)),
		Down:          make(map[string][]headDTO, len(p.Down)),
		V2VResidual:   p.V2V.ResidualLogit,
		V2VTemp:       p.V2V.TemperatureLogit,
		WIntent:       toDenseDTO(p.WIntent),
		Scoring:       make([]scoringHeadDTO, len(p.Scoring)),
		UpdatedAtUnix: updatedAtUnix,
	}
	var k int
	var hs []messagepassing.HeadParams
	for k, hs = range p.Up {
		blob.Up[levelKey(k)] = toHeadDTOs(hs)
	}
	for k, hs = range p.Down {
		blob.Down[levelKey(k)] = toHeadDTOs(hs)
	}
	var i int
	for i = range p.Scoring {
		blob.Scoring[i] = scoringHeadDTO{WQ: toDenseDTO(p.Scoring[i].WQ), WK: toDenseDTO(p.Scoring[i].WK)}
	}

	return json.Marshal(blob)
}

// ImportParams validates blob against the current schema version and d,
// then constructs a fresh *Params. It never mutates an existing Params in
// place; callers CAS it into a Model via Model.SwapParams.
func ImportParams(data []byte, expectD int) (*Params, error) {
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("shgat.ImportParams: %w", err)
	}
	if blob.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("shgat.ImportParams: %w: got %d want %d", ErrParamSchemaMismatch, blob.SchemaVersion, SchemaVersion)
	}
	if expectD > 0 && blob.D != expectD {
		return nil, fmt.Errorf("shgat.ImportParams: %w: d=%d want %d", ErrShapeMismatch, blob.D, expectD)
	}

	p := &Params{
		Up:         make(map[int][]messagepassing.HeadParams, len(blob.Up)),
		Down:       make(map[int][]messagepassing.HeadParams, len(blob.Down)),
		V2V:        messagepassing.V2VParams{ResidualLogit: blob.V2VResidual, TemperatureLogit: blob.V2VTemp},
		Heads:      blob.Heads,
		D:          blob.D,
		MaxLevel:   blob.MaxLevel,
		ScoringDim: blob.ScoringDim,
	}

	var err error
	p.V0, err = fromHeadDTOs(blob.V0)
	if err != nil {
		return nil, fmt.Errorf("shgat.ImportParams: v0: %w", err)
	}
	var key string
	var hs []headDTO
	for key, hs = range blob.Up {
		lvl, perr := parseLevelKey(key)
		if perr != nil {
			return nil, perr
		}
		if p.Up[lvl], err = fromHeadDTOs(hs); err != nil {
			return nil, fmt.Errorf("shgat.ImportParams: up[%s]: %w", key, err)
		}
	}
	for key, hs = range blob.Down {
		lvl, perr := parseLevelKey(key)
		if perr != nil {
			return nil, perr
		}
		if p.Down[lvl], err = fromHeadDTOs(hs); err != nil {
			return nil, fmt.Errorf("shgat.ImportParams: down[%s]: %w", key, err)
		}
	}

	if p.WIntent, err = fromDenseDTO(blob.WIntent); err != nil {
		return nil, fmt.Errorf("shgat.ImportParams: w_intent: %w", err)
	}
	p.Scoring = make([]HeadScoring, len(blob.Scoring))
	var i int
	for i = range blob.Scoring {
		wq, werr := fromDenseDTO(blob.Scoring[i].WQ)
		if werr != nil {
			return nil, fmt.Errorf("shgat.ImportParams: scoring[%d].w_q: %w", i, werr)
		}
		wk, werr := fromDenseDTO(blob.Scoring[i].WK)
		if werr != nil {
			return nil, fmt.Errorf("shgat.ImportParams: scoring[%d].w_k: %w", i, werr)
		}
		p.Scoring[i] = HeadScoring{WQ: wq, WK: wk}
	}

	return p, nil
}

func toHeadDTOs(hs []messagepassing.HeadParams) []headDTO {
	out := make([]headDTO, len(hs))
	var i int
	for i = range hs {
		out[i] = toHeadDTO(hs[i])
	}

	return out
}

func fromHeadDTOs(dtos []headDTO) ([]messagepassing.HeadParams, error) {
	out := make([]messagepassing.HeadParams, len(dtos))
	var i int
	var err error
	for i = range dtos {
		if out[i], err = fromHeadDTO(dtos[i]); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func levelKey(k int) string { return fmt.Sprintf("%d", k) }

func parseLevelKey(s string) (int, error) {
	var k int
	if _, err := fmt.Sscanf(s, "%d", &k); err != nil {
		return 0, fmt.Errorf("shgat: invalid level key %q: %w", s, err)
	}

	return k, nil
}

// SwapParams atomically replaces the model's live parameter set after
// checking that p.D matches the model's d; the schema version is checked
// earlier, by ImportParams. In-flight Score calls
// see either the fully-old or fully-new set (§5 "Parameter swap").
func (m *Model) SwapParams(p *Params) error {
	if p.D != m.d {
		return fmt.Errorf("shgat.Model.SwapParams: %w: d=%d want %d", ErrShapeMismatch, p.D, m.d)
	}
	m.current = p.Heads
	m.params.Store(p)

	return nil
}
