package storage

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"nichegarp/internal/model"
)

// Binary model layout, in flatbuffers schema notation:
//
//	table Rule { type:ubyte; prediction:double; chromosome1:[double];
//	             chromosome2:[double]; performance:[double]; }
//	table Normalization { min:[double]; max:[double]; }
//	table Model { schema_version:int; codec_version:int; id:string;
//	              generations:int; convergence:double; accuracy_limit:double;
//	              mortality:double; significance:double;
//	              final_crossover_rate:double; final_mutation_rate:double;
//	              final_gap_size:double; population_size:int; layers:int;
//	              normalization:Normalization; rules:[Rule]; }
//	root_type Model;

var ErrMalformedBinary = errors.New("malformed binary model")

const (
	ruleType = iota
	rulePrediction
	ruleChromosome1
	ruleChromosome2
	rulePerformance
	ruleFields
)

const (
	normMin = iota
	normMax
	normFields
)

const (
	modelSchemaVersion = iota
	modelCodecVersion
	modelID
	modelGenerations
	modelConvergence
	modelAccuracyLimit
	modelMortality
	modelSignificance
	modelCrossoverRate
	modelMutationRate
	modelGapSize
	modelPopulationSize
	modelLayers
	modelNormalization
	modelRules
	modelFields
)

// EncodeModelBinary writes m as a flatbuffer.
func EncodeModelBinary(m model.GarpModel) ([]byte, error) {
	builder := flatbuffers.NewBuilder(1024)

	ruleOffsets := make([]flatbuffers.UOffsetT, len(m.Rules))
	for i, r := range m.Rules {
		if len(r.Type) != 1 {
			return nil, fmt.Errorf("encode rule %d: invalid type %q", i, r.Type)
		}
		c1 := createFloat64Vector(builder, r.Chromosome1)
		c2 := createFloat64Vector(builder, r.Chromosome2)
		perf := createFloat64Vector(builder, r.Performance)
		builder.StartObject(ruleFields)
		builder.PrependByteSlot(ruleType, r.Type[0], 0)
		builder.PrependFloat64Slot(rulePrediction, r.Prediction, 0)
		builder.PrependUOffsetTSlot(ruleChromosome1, c1, 0)
		builder.PrependUOffsetTSlot(ruleChromosome2, c2, 0)
		builder.PrependUOffsetTSlot(rulePerformance, perf, 0)
		ruleOffsets[i] = builder.EndObject()
	}
	builder.StartVector(4, len(ruleOffsets), 4)
	for i := len(ruleOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(ruleOffsets[i])
	}
	rulesVector := builder.EndVector(len(ruleOffsets))

	var normOffset flatbuffers.UOffsetT
	if m.Normalization != nil {
		minVector := createFloat64Vector(builder, m.Normalization.Min)
		maxVector := createFloat64Vector(builder, m.Normalization.Max)
		builder.StartObject(normFields)
		builder.PrependUOffsetTSlot(normMin, minVector, 0)
		builder.PrependUOffsetTSlot(normMax, maxVector, 0)
		normOffset = builder.EndObject()
	}

	id := builder.CreateString(m.ID)

	builder.StartObject(modelFields)
	builder.PrependInt32Slot(modelSchemaVersion, int32(m.SchemaVersion), 0)
	builder.PrependInt32Slot(modelCodecVersion, int32(m.CodecVersion), 0)
	builder.PrependUOffsetTSlot(modelID, id, 0)
	builder.PrependInt32Slot(modelGenerations, int32(m.Generations), 0)
	builder.PrependFloat64Slot(modelConvergence, m.Convergence, 0)
	builder.PrependFloat64Slot(modelAccuracyLimit, m.AccuracyLimit, 0)
	builder.PrependFloat64Slot(modelMortality, m.Mortality, 0)
	builder.PrependFloat64Slot(modelSignificance, m.Significance, 0)
	builder.PrependFloat64Slot(modelCrossoverRate, m.FinalCrossoverRate, 0)
	builder.PrependFloat64Slot(modelMutationRate, m.FinalMutationRate, 0)
	builder.PrependFloat64Slot(modelGapSize, m.FinalGapSize, 0)
	builder.PrependInt32Slot(modelPopulationSize, int32(m.PopulationSize), 0)
	builder.PrependInt32Slot(modelLayers, int32(m.Layers), 0)
	if normOffset != 0 {
		builder.PrependUOffsetTSlot(modelNormalization, normOffset, 0)
	}
	builder.PrependUOffsetTSlot(modelRules, rulesVector, 0)
	root := builder.EndObject()
	builder.Finish(root)

	return builder.FinishedBytes(), nil
}

// DecodeModelBinary reads a flatbuffer written by EncodeModelBinary and
// applies the same version check as the JSON codec.
func DecodeModelBinary(data []byte) (m model.GarpModel, err error) {
	if len(data) < flatbuffers.SizeUOffsetT {
		return model.GarpModel{}, ErrMalformedBinary
	}
	defer func() {
		if r := recover(); r != nil {
			m = model.GarpModel{}
			err = fmt.Errorf("%w: %v", ErrMalformedBinary, r)
		}
	}()

	t := table{flatbuffers.Table{Bytes: data, Pos: flatbuffers.GetUOffsetT(data)}}
	m = model.GarpModel{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: int(t.int32Field(modelSchemaVersion)),
			CodecVersion:  int(t.int32Field(modelCodecVersion)),
		},
		ID:                 t.stringField(modelID),
		Generations:        int(t.int32Field(modelGenerations)),
		Convergence:        t.float64Field(modelConvergence),
		AccuracyLimit:      t.float64Field(modelAccuracyLimit),
		Mortality:          t.float64Field(modelMortality),
		Significance:       t.float64Field(modelSignificance),
		FinalCrossoverRate: t.float64Field(modelCrossoverRate),
		FinalMutationRate:  t.float64Field(modelMutationRate),
		FinalGapSize:       t.float64Field(modelGapSize),
		PopulationSize:     int(t.int32Field(modelPopulationSize)),
		Layers:             int(t.int32Field(modelLayers)),
	}
	if err := checkVersion(m.VersionedRecord); err != nil {
		return model.GarpModel{}, err
	}
	if norm, ok := t.subTable(modelNormalization); ok {
		m.Normalization = &model.Normalization{
			Min: norm.float64Vector(normMin),
			Max: norm.float64Vector(normMax),
		}
	}
	n := t.vectorLen(modelRules)
	m.Rules = make([]model.RuleRecord, n)
	for i := 0; i < n; i++ {
		r := t.tableAt(modelRules, i)
		tag := r.uint8Field(ruleType)
		if tag == 0 {
			return model.GarpModel{}, fmt.Errorf("%w: rule %d has no type", ErrMalformedBinary, i)
		}
		m.Rules[i] = model.RuleRecord{
			Type:        string([]byte{tag}),
			Prediction:  r.float64Field(rulePrediction),
			Chromosome1: r.float64Vector(ruleChromosome1),
			Chromosome2: r.float64Vector(ruleChromosome2),
			Performance: r.float64Vector(rulePerformance),
		}
	}
	return m, nil
}

func createFloat64Vector(builder *flatbuffers.Builder, values []float64) flatbuffers.UOffsetT {
	builder.StartVector(flatbuffers.SizeFloat64, len(values), flatbuffers.SizeFloat64)
	for i := len(values) - 1; i >= 0; i-- {
		builder.PrependFloat64(values[i])
	}
	return builder.EndVector(len(values))
}

// table wraps the raw accessor with slot-indexed helpers.
type table struct {
	flatbuffers.Table
}

func slot(field int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(4 + 2*field)
}

func (t table) field(f int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(slot(f)))
}

func (t table) uint8Field(f int) byte {
	if o := t.field(f); o != 0 {
		return t.GetByte(o + t.Pos)
	}
	return 0
}

func (t table) int32Field(f int) int32 {
	if o := t.field(f); o != 0 {
		return t.GetInt32(o + t.Pos)
	}
	return 0
}

func (t table) float64Field(f int) float64 {
	if o := t.field(f); o != 0 {
		return t.GetFloat64(o + t.Pos)
	}
	return 0
}

func (t table) stringField(f int) string {
	if o := t.field(f); o != 0 {
		return t.String(o + t.Pos)
	}
	return ""
}

func (t table) vectorLen(f int) int {
	if o := t.field(f); o != 0 {
		return t.VectorLen(o)
	}
	return 0
}

func (t table) float64Vector(f int) []float64 {
	o := t.field(f)
	if o == 0 {
		return nil
	}
	n := t.VectorLen(o)
	start := t.Vector(o)
	out := make([]float64, n)
	for i := range out {
		out[i] = t.GetFloat64(start + flatbuffers.UOffsetT(i*flatbuffers.SizeFloat64))
	}
	return out
}

func (t table) subTable(f int) (table, bool) {
	o := t.field(f)
	if o == 0 {
		return table{}, false
	}
	return table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(o + t.Pos)}}, true
}

func (t table) tableAt(f, i int) table {
	o := t.field(f)
	x := t.Vector(o) + flatbuffers.UOffsetT(i*flatbuffers.SizeUOffsetT)
	return table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(x)}}
}
