package docstore

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ehr/clinic/internal/platform/apperr"
)

func TestClassify(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no documents", mongo.ErrNoDocuments, apperr.ErrNotFound},
		{"wrapped no documents", fmt.Errorf("decode: %w", mongo.ErrNoDocuments), apperr.ErrNotFound},
		{"duplicate key", dup, apperr.ErrConflict},
		{"other", errors.New("server selection timeout"), apperr.ErrStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify("op", tt.err); !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want kind %v", tt.err, got, tt.want)
			}
		})
	}
	if Classify("op", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestIndexes_EmailIsUnique(t *testing.T) {
	models := Indexes()[Users]
	if len(models) == 0 {
		t.Fatal("expected user indexes")
	}
	opts := models[0].Options
	if opts == nil || opts.Unique == nil || !*opts.Unique {
		t.Error("expected the first users index to be unique")
	}
	for _, coll := range []string{Medicines, Prescriptions} {
		if len(Indexes()[coll]) == 0 {
			t.Errorf("expected indexes for %s", coll)
		}
	}
}
