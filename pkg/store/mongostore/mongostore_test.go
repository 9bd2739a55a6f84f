package mongostore

import (
	"testing"

	"bonzai/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRecordConversion(t *testing.T) {
	item := store.Item{
		Key:     store.Key{PK: "BOOKING#b-1", SK: "CONFIRMATION"},
		Status:  "CONFIRMED",
		Version: 3,
		Body:    []byte(`{"booking_id":"b-1","reserved_rooms":[201,202],"note":"late arrival"}`),
	}

	rec, err := toRecord(item)
	require.NoError(t, err)
	assert.Equal(t, "BOOKING#b-1|CONFIRMATION", rec.ID)
	assert.Equal(t, "CONFIRMED", rec.Status)
	assert.NotEmpty(t, rec.Body)

	back, err := fromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, item.Key, back.Key)
	assert.Equal(t, item.Status, back.Status)
	assert.Equal(t, int64(3), back.Version)
	assert.JSONEq(t, string(item.Body), string(back.Body))
}

func TestRecordConversion_NoBody(t *testing.T) {
	item := store.Item{Key: store.Key{PK: "ROOM#101", SK: "DATE#2025-09-20"}, Owner: "b-1", Date: "2025-09-20"}

	rec, err := toRecord(item)
	require.NoError(t, err)
	assert.Nil(t, rec.Body)

	back, err := fromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, item, back)
}

func TestRecordConversion_RejectsNonObjectBody(t *testing.T) {
	_, err := toRecord(store.Item{Key: store.Key{PK: "p", SK: "s"}, Body: []byte(`not json`)})
	assert.Error(t, err)
}

func TestConditionFilter(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "owner", Value: "b-1"}}, conditionFilter(store.OwnedBy("b-1")))
	assert.Equal(t, bson.D{{Key: "status", Value: bson.M{"$ne": "CANCELLED"}}}, conditionFilter(store.StatusNot("CANCELLED")))
	assert.Equal(t, bson.D{{Key: "version", Value: int64(2)}}, conditionFilter(store.AtVersion(2)))
	assert.Equal(t, bson.D{
		{Key: "status", Value: bson.M{"$ne": "CANCELLED"}},
		{Key: "version", Value: int64(2)},
	}, conditionFilter(store.StatusNotAtVersion("CANCELLED", 2)))
	assert.Nil(t, conditionFilter(store.NoCondition()))
	assert.Nil(t, conditionFilter(store.Absent()))
}
