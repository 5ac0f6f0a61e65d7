package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/journal"
)

func TestDecodeTrackerPage_GenericShape(t *testing.T) {
	body := []byte(`{
		"data": [
			{"dayKey": "2024-02-03", "optedItems": [{"itemId": "yoga", "dayKey": "2024-02-03"}, "med"]},
			{"date": "2024-02-06", "optedItems": [{"itemId": ""}, {"itemId": "x", "dayKey": "junk"}]}
		]
	}`)

	rp, err := decodeTrackerPage(body)
	require.NoError(t, err)

	assert.Equal(t, 1, rp.TotalPages, "missing totalPages reads as one page")
	assert.Equal(t, journal.Log{ev("2024-02-03", "yoga"), ev("2024-02-03", "med")}, rp.Items)
}

func TestDecodeTrackerPage_KeepsDuplicates(t *testing.T) {
	body := []byte(`{"results":[{"date":"2024-02-05","optedSadanas":["yoga","yoga"]}],"totalPages":1}`)

	rp, err := decodeTrackerPage(body)
	require.NoError(t, err)
	assert.Len(t, rp.Items, 2)
}

func TestDecodeTrackerPage_SkipsScalarElements(t *testing.T) {
	body := []byte(`{"results":[{"date":"2024-02-05","optedSadanas":["yoga",42,true,null,["med"],{"sadana":"med"}]}],"totalPages":1}`)

	rp, err := decodeTrackerPage(body)
	require.NoError(t, err)
	assert.Equal(t, journal.Log{ev("2024-02-05", "yoga"), ev("2024-02-05", "med")}, rp.Items)
}

func TestDecodeTrackerPage_Rejects(t *testing.T) {
	_, err := decodeTrackerPage([]byte(`[`))
	assert.Error(t, err)
}

func TestDecodeCatalog_BareArray(t *testing.T) {
	items, err := decodeCatalog([]byte(`[{"id":"a","name":"A","points":3}]`))
	require.NoError(t, err)
	assert.Equal(t, []journal.Item{{ID: "a", Name: "A", Points: 3, Active: true}}, items)
}

func TestDecodeProfile_Wrapped(t *testing.T) {
	p, err := decodeProfile([]byte(`{"data":{"id":"u1","sadhanaPoints":7}}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	require.NotNil(t, p.SadhanaPoints)
	assert.Equal(t, 7, *p.SadhanaPoints)
	assert.Nil(t, p.DecayPoints)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Conflict, classify(400, "x", "already_opted", "").Kind)
	assert.Equal(t, Transient, classify(408, "x", "", "").Kind)
	assert.Equal(t, Transient, classify(503, "x", "", "").Kind)
	assert.Equal(t, Hard, classify(422, "x", "", "").Kind)
	assert.Equal(t, "Network error", failureMessage(0, "", ""))
}

func TestFailureMessageOrder(t *testing.T) {
	assert.Equal(t, "bad item", failureMessage(400, "bad item", "raw"))
	assert.Equal(t, "HTTP 404", failureMessage(404, "  ", "not here"))
	assert.Equal(t, "not here", failureMessage(0, "", " not here "))
	assert.Equal(t, "Network error", failureMessage(0, "", ""))
}
