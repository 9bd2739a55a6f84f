package validators

import "go.mongodb.org/mongo-driver/bson"

// RecordValidator checks the envelope shared by every record kind. Bodies
// are free-form because rooms, bookings, lines and locks differ.
var RecordValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType":             "object",
		"required":             []string{"_id", "pk", "sk"},
		"additionalProperties": false,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 3,
			},

			"pk": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"sk": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"owner": bson.M{
				"bsonType": "string",
			},

			"status": bson.M{
				"bsonType": "string",
				"enum":     []string{"CONFIRMED", "CANCELLED"},
			},

			"version": bson.M{
				"bsonType": []string{"long", "int"},
				"minimum":  0,
			},

			"date": bson.M{
				"bsonType": "string",
				"pattern":  `^\d{4}-\d{2}-\d{2}$`,
			},

			"body": bson.M{
				"bsonType": "object",
			},
		},
	},
}
