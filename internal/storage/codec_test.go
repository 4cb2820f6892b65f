package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nichegarp/internal/garp"
	"nichegarp/internal/model"
)

func TestDecodeModelFixture(t *testing.T) {
	m := fixtureModel(t)
	assert.Equal(t, "garp-model-fixture-1", m.ID)
	assert.Equal(t, 2, m.Layers)
	require.Len(t, m.Rules, 2)
	assert.Equal(t, "!", m.Rules[1].Type)
	require.NotNil(t, m.Normalization)
}

func TestDecodeModelVersionMismatch(t *testing.T) {
	_, err := DecodeModel([]byte(`{"schema_version": 2, "codec_version": 1, "id": "x"}`))
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestDecodeEnsembleChecksMembers(t *testing.T) {
	data := []byte(`{"schema_version":1,"codec_version":1,"id":"e","members":[{"run_id":1,"model":{"schema_version":0,"codec_version":1}}]}`)
	_, err := DecodeEnsemble(data)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestStampFillsMissingVersions(t *testing.T) {
	var v model.VersionedRecord
	Stamp(&v)
	assert.Equal(t, CurrentSchemaVersion, v.SchemaVersion)
	assert.Equal(t, CurrentCodecVersion, v.CodecVersion)
}

func TestBinaryModelRoundTrip(t *testing.T) {
	m := fixtureModel(t)
	data, err := EncodeModelBinary(m)
	require.NoError(t, err)

	decoded, err := DecodeModelBinary(data)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestBinaryModelWithoutNormalization(t *testing.T) {
	m := fixtureModel(t)
	m.Normalization = nil
	data, err := EncodeModelBinary(m)
	require.NoError(t, err)

	decoded, err := DecodeModelBinary(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Normalization)
}

func TestBinaryModelRejectsBadInput(t *testing.T) {
	_, err := DecodeModelBinary([]byte{1})
	require.ErrorIs(t, err, ErrMalformedBinary)

	m := fixtureModel(t)
	m.Rules[0].Type = "range"
	_, err = EncodeModelBinary(m)
	require.Error(t, err)
}

// Predictions must not depend on which codec carried the model.
func TestCodecPredictionParity(t *testing.T) {
	m := fixtureModel(t)
	jsonData, err := EncodeModel(m)
	require.NoError(t, err)
	fromJSON, err := DecodeModel(jsonData)
	require.NoError(t, err)
	binData, err := EncodeModelBinary(m)
	require.NoError(t, err)
	fromBinary, err := DecodeModelBinary(binData)
	require.NoError(t, err)

	fixture, err := garp.LoadModel(m)
	require.NoError(t, err)
	viaJSON, err := garp.LoadModel(fromJSON)
	require.NoError(t, err)
	viaBinary, err := garp.LoadModel(fromBinary)
	require.NoError(t, err)

	samples := []model.Sample{{0, 0}, {0.4, -0.9}, {0.7, 0.2}, {-0.6, 0.6}, {0.5, 1}}
	for _, sample := range samples {
		want := fixture.Value(sample)
		assert.Equal(t, want, viaJSON.Value(sample), "json sample %v", sample)
		assert.Equal(t, want, viaBinary.Value(sample), "binary sample %v", sample)
	}
	assert.Equal(t, 1.0, fixture.Value(model.Sample{0, 0}))
	assert.Equal(t, 0.0, fixture.Value(model.Sample{0.7, 0.2}))
}

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("", "")
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	require.Error(t, err)
}

func fixtureModel(t require.TestingT) model.GarpModel {
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "fixtures", "garp_model_v1.json"))
	require.NoError(t, err)
	m, err := DecodeModel(data)
	require.NoError(t, err)
	return m
}
