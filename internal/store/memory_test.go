package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaiwenliu/invoiceflow/internal/model"
)

func newRecord(id string) *model.FileRecord {
	return &model.FileRecord{
		ID:        id,
		Name:      id + ".pdf",
		Size:      100,
		ObjectKey: id + "-key",
	}
}

func TestLifecycleSuccess(t *testing.T) {
	m := NewMemoryStore()
	m.Add(newRecord("a"))

	rec, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, rec.Status)
	assert.Nil(t, rec.ExtractedData)
	assert.Nil(t, rec.NewName)
	assert.Nil(t, rec.ErrorMessage)

	require.NoError(t, m.MarkProcessing("a"))
	require.NoError(t, m.Complete("a", model.InvoiceData{
		BusinessNumber: "12345678",
		InvoiceDate:    "2024/03/15",
		BuyerName:      "Acme Co",
	}))

	rec, err = m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	require.NotNil(t, rec.ExtractedData)
	require.NotNil(t, rec.NewName)
	assert.Equal(t, "12345678_20240315.pdf", *rec.NewName)
	assert.Nil(t, rec.ErrorMessage)
}

func TestLifecycleError(t *testing.T) {
	m := NewMemoryStore()
	m.Add(newRecord("a"))
	require.NoError(t, m.MarkProcessing("a"))
	require.NoError(t, m.Fail("a", "發票分析失敗，請重試。"))

	rec, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, rec.Status)
	// Data and name stay absent together; only the message is set.
	assert.Nil(t, rec.ExtractedData)
	assert.Nil(t, rec.NewName)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "發票分析失敗，請重試。", *rec.ErrorMessage)
}

func TestTransitionGuards(t *testing.T) {
	m := NewMemoryStore()
	m.Add(newRecord("a"))

	// Terminal writes require the processing state.
	assert.ErrorIs(t, m.Complete("a", model.InvoiceData{}), ErrInvalidTransition)
	assert.ErrorIs(t, m.Fail("a", "boom"), ErrInvalidTransition)

	require.NoError(t, m.MarkProcessing("a"))
	// No re-dispatch of an in-flight record.
	assert.ErrorIs(t, m.MarkProcessing("a"), ErrInvalidTransition)

	require.NoError(t, m.Fail("a", "boom"))
	// Error is terminal until reset: no way back to processing.
	assert.ErrorIs(t, m.MarkProcessing("a"), ErrInvalidTransition)
	_, err := m.MutateData("a", func(d model.InvoiceData) model.InvoiceData { return d })
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.ErrorIs(t, m.MarkProcessing("missing"), ErrNotFound)
}

func TestMutateDataRederivesName(t *testing.T) {
	m := NewMemoryStore()
	m.Add(newRecord("a"))
	require.NoError(t, m.MarkProcessing("a"))
	require.NoError(t, m.Complete("a", model.InvoiceData{
		BusinessNumber: "11111111",
		InvoiceDate:    "2024/01/01",
	}))

	rec, err := m.MutateData("a", func(d model.InvoiceData) model.InvoiceData {
		d.BusinessNumber = "22222222"
		return d
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, "22222222", rec.ExtractedData.BusinessNumber)
	assert.Equal(t, "22222222_20240101.pdf", *rec.NewName)

	rec, err = m.MutateData("a", func(d model.InvoiceData) model.InvoiceData {
		d.InvoiceDate = "2025-06-30"
		return d
	})
	require.NoError(t, err)
	assert.Equal(t, "22222222_20250630.pdf", *rec.NewName)
}

func TestGetReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	m.Add(newRecord("a"))
	require.NoError(t, m.MarkProcessing("a"))
	require.NoError(t, m.Complete("a", model.InvoiceData{BusinessNumber: "12345678", InvoiceDate: "2024/03/15"}))

	rec, err := m.Get("a")
	require.NoError(t, err)
	rec.ExtractedData.BusinessNumber = "mutated"
	*rec.NewName = "mutated.pdf"

	fresh, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "12345678", fresh.ExtractedData.BusinessNumber)
	assert.Equal(t, "12345678_20240315.pdf", *fresh.NewName)
}

func TestAggregates(t *testing.T) {
	m := NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		m.Add(newRecord(id))
	}
	require.NoError(t, m.MarkProcessing("a"))
	require.NoError(t, m.Complete("a", model.InvoiceData{BusinessNumber: "12345678", InvoiceDate: "2024/03/15"}))
	require.NoError(t, m.MarkProcessing("b"))
	require.NoError(t, m.Fail("b", "boom"))
	require.NoError(t, m.MarkProcessing("c"))

	counts := m.Counts()
	assert.Equal(t, Counts{Idle: 1, Processing: 1, Success: 1, Error: 1}, counts)
	assert.Equal(t, []string{"d"}, m.IdleIDs())

	successes := m.Successes()
	require.Len(t, successes, 1)
	assert.Equal(t, "a", successes[0].ID)
}

func TestResetAndDelete(t *testing.T) {
	m := NewMemoryStore()
	m.Add(newRecord("a"))
	m.Add(newRecord("b"))

	rec, err := m.Delete("a")
	require.NoError(t, err)
	assert.Equal(t, "a-key", rec.ObjectKey)
	_, err = m.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)

	removed := m.Reset()
	assert.Len(t, removed, 1)
	assert.Empty(t, m.List())
}

func TestAddSameIDReplaces(t *testing.T) {
	m := NewMemoryStore()
	m.Add(newRecord("a"))
	dup := newRecord("a")
	dup.Size = 999
	m.Add(dup)

	records := m.List()
	require.Len(t, records, 1)
	assert.Equal(t, int64(999), records[0].Size)
}
