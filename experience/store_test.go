package experience

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InsertionOrder(t *testing.T) {
	store := NewStore()
	store.Set("G0", "Start broadly.")
	store.Set("G1", "Verify sources.")
	store.Set("C0", "Check units.")

	assert.Equal(t, []string{"G0", "G1", "C0"}, store.IDs())

	store.Set("G1", "Verify sources twice.")
	assert.Equal(t, []string{"G0", "G1", "C0"}, store.IDs(), "overwrite must not reorder")

	content, ok := store.Get("G1")
	require.True(t, ok)
	assert.Equal(t, "Verify sources twice.", content)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore()
	store.Set("G0", "a")
	store.Set("G1", "b")

	assert.True(t, store.Delete("G0"))
	assert.False(t, store.Delete("G0"))
	assert.Equal(t, []string{"G1"}, store.IDs())
}

func TestStore_Format(t *testing.T) {
	store := NewStore()
	assert.Equal(t, "None", store.Format())

	store.Set("G0", "Start broadly.")
	store.Set("G1", "Verify sources.")
	assert.Equal(t, "[G0]. Start broadly.\n[G1]. Verify sources.", store.Format())
}

func TestStore_Renumber(t *testing.T) {
	store := NewStore()
	store.Set("G0", "a")
	store.Set("C0", "b")
	store.Set("7", "c")

	renumbered := store.Renumber("G")
	assert.Equal(t, []string{"G0", "G1", "G2"}, renumbered.IDs())
	content, _ := renumbered.Get("G1")
	assert.Equal(t, "b", content)

	// original untouched
	assert.Equal(t, []string{"G0", "C0", "7"}, store.IDs())
}

func TestStore_JSONRoundTrip(t *testing.T) {
	store := NewStore()
	store.Set("G0", "Start broadly.")
	store.Set("G1", "Verify sources.")
	store.Set("G2", "Check units.")

	data, err := json.Marshal(store)
	require.NoError(t, err)
	assert.JSONEq(t, `{"G0":"Start broadly.","G1":"Verify sources.","G2":"Check units."}`, string(data))

	decoded := NewStore()
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.Equal(t, store.IDs(), decoded.IDs(), "document order survives the round trip")
}

func TestStore_UnmarshalRejectsNonObject(t *testing.T) {
	store := NewStore()
	assert.Error(t, json.Unmarshal([]byte(`["not","an","object"]`), store))
}

func TestStore_Clone(t *testing.T) {
	store := NewStore()
	store.Set("G0", "a")

	clone := store.Clone()
	clone.Set("G0", "changed")
	clone.Set("G1", "new")

	content, _ := store.Get("G0")
	assert.Equal(t, "a", content)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 2, clone.Len())
}
