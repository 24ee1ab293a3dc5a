package process

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/storage"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func quote(text, author string) models.Record {
	return models.NewRecord(models.Field{Name: "text", Value: text}, models.Field{Name: "author", Value: author})
}

func TestFilter_DropsSeenAndBatchDuplicates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := NewDataProcessor("quotes", []string{"text", "author"}, 0, store, testLogger())

	require.NoError(t, store.MarkSeen(ctx, "quotes", p.Key(quote("old", "A"))))

	in := []models.Record{
		quote("old", "A"),
		quote("new", "A"),
		quote("new", "A"),
		quote("new", "B"),
	}
	kept, err := p.Filter(ctx, in)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, "A", kept[0].Value("author"))
	assert.Equal(t, "B", kept[1].Value("author"))

	// Filter does not mark
	n, _ := store.Count(ctx, "quotes")
	assert.Equal(t, 1, n)

	require.NoError(t, p.Commit(ctx, kept))
	n, _ = store.Count(ctx, "quotes")
	assert.Equal(t, 3, n)

	kept, err = p.Filter(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, kept, "second run sees everything")
}

func TestFilter_MissingKeyFieldsHashAsEmpty(t *testing.T) {
	p := NewDataProcessor("s", []string{"text", "author"}, 0, storage.NewMemoryStore(), testLogger())
	partial := models.NewRecord(models.Field{Name: "text", Value: "t"})
	assert.Equal(t, p.Key(quote("t", "")), p.Key(partial))
}

func TestFilter_InsufficientData(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewDataProcessor("quotes", []string{"text"}, 3, store, testLogger())

	kept, err := p.Filter(context.Background(), []models.Record{quote("a", "x"), quote("b", "y")})
	require.ErrorIs(t, err, utils.ErrInsufficientData)
	assert.Contains(t, err.Error(), "2 < 3")
	assert.Len(t, kept, 2)
	assert.Equal(t, "Data_Insufficient", utils.CategorizeError(err))
}

func TestProcess_MarksOnSuccessOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	strict := NewDataProcessor("quotes", []string{"text"}, 5, store, testLogger())
	_, err := strict.Process(ctx, []models.Record{quote("a", "x")})
	require.ErrorIs(t, err, utils.ErrInsufficientData)
	n, _ := store.Count(ctx, "quotes")
	assert.Equal(t, 0, n)

	lenient := NewDataProcessor("quotes", []string{"text"}, 1, store, testLogger())
	kept, err := lenient.Process(ctx, []models.Record{quote("a", "x")})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
	n, _ = store.Count(ctx, "quotes")
	assert.Equal(t, 1, n)
}

func TestFilter_RecordsAreNotMutated(t *testing.T) {
	in := []models.Record{quote("a", "x")}
	before := in[0].Keys()
	p := NewDataProcessor("s", []string{"text"}, 0, storage.NewMemoryStore(), testLogger())
	kept, err := p.Filter(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, before, kept[0].Keys())
	assert.Equal(t, "a", in[0].Value("text"))
}
