package prescription

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/clinic/internal/platform/docstore"
)

type itemDoc struct {
	MedicineID string `bson:"medicine_id"`
	Quantity   int    `bson:"quantity"`
}

type prescriptionDoc struct {
	ID          string    `bson:"_id"`
	PatientID   string    `bson:"patient_id"`
	PatientName string    `bson:"patient_name"`
	Description string    `bson:"description"`
	Medicines   []itemDoc `bson:"medicines"`
	Completed   bool      `bson:"completed"`
	Expiry      time.Time `bson:"expiry"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
	DoctorID    string    `bson:"doctor_id"`
}

func toItemDocs(items []Item) []itemDoc {
	docs := make([]itemDoc, len(items))
	for i, it := range items {
		docs[i] = itemDoc{MedicineID: it.MedicineID.String(), Quantity: it.Quantity}
	}
	return docs
}

func (d prescriptionDoc) prescription() (*Prescription, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	doctorID, err := uuid.Parse(d.DoctorID)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(d.Medicines))
	for _, it := range d.Medicines {
		mid, err := uuid.Parse(it.MedicineID)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{MedicineID: mid, Quantity: it.Quantity})
	}
	return &Prescription{
		ID:          id,
		PatientID:   d.PatientID,
		PatientName: d.PatientName,
		Description: d.Description,
		Medicines:   items,
		Completed:   d.Completed,
		Expiry:      d.Expiry,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		DoctorID:    doctorID,
	}, nil
}

type prescriptionRepoMongo struct{ coll *mongo.Collection }

// NewPrescriptionRepoMongo stores each prescription as one document with its
// items embedded.
func NewPrescriptionRepoMongo(store *docstore.Store) Repository {
	return &prescriptionRepoMongo{coll: store.Collection(docstore.Prescriptions)}
}

func (r *prescriptionRepoMongo) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.coll.InsertOne(ctx, prescriptionDoc{
		ID:          p.ID.String(),
		PatientID:   p.PatientID,
		PatientName: p.PatientName,
		Description: p.Description,
		Medicines:   toItemDocs(p.Medicines),
		Completed:   p.Completed,
		Expiry:      p.Expiry,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		DoctorID:    p.DoctorID.String(),
	})
	return docstore.Classify("insert prescription", err)
}

func ownedBy(id, doctorID uuid.UUID) bson.M {
	return bson.M{"_id": id.String(), "doctor_id": doctorID.String()}
}

func (r *prescriptionRepoMongo) GetForDoctor(ctx context.Context, id, doctorID uuid.UUID) (*Prescription, error) {
	var d prescriptionDoc
	err := r.coll.FindOne(ctx, ownedBy(id, doctorID)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFoundOrUnauthorized
	}
	if err != nil {
		return nil, docstore.Classify("find prescription", err)
	}
	p, err := d.prescription()
	if err != nil {
		return nil, docstore.Classify("decode prescription", err)
	}
	return p, nil
}

func (r *prescriptionRepoMongo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	filter := bson.M{"doctor_id": doctorID.String()}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, docstore.Classify("count prescriptions", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, docstore.Classify("list prescriptions", err)
	}
	var docs []prescriptionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, docstore.Classify("decode prescriptions", err)
	}

	out := make([]*Prescription, 0, len(docs))
	for _, d := range docs {
		p, err := d.prescription()
		if err != nil {
			return nil, 0, docstore.Classify("decode prescription", err)
		}
		out = append(out, p)
	}
	return out, int(total), nil
}

func (r *prescriptionRepoMongo) Update(ctx context.Context, p *Prescription) error {
	res, err := r.coll.UpdateOne(ctx, ownedBy(p.ID, p.DoctorID), bson.M{"$set": bson.M{
		"description": p.Description,
		"completed":   p.Completed,
		"medicines":   toItemDocs(p.Medicines),
		"updated_at":  p.UpdatedAt,
	}})
	if err != nil {
		return docstore.Classify("update prescription", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFoundOrUnauthorized
	}
	return nil
}

func (r *prescriptionRepoMongo) DeleteForDoctor(ctx context.Context, id, doctorID uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, ownedBy(id, doctorID))
	if err != nil {
		return docstore.Classify("delete prescription", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFoundOrUnauthorized
	}
	return nil
}

type joinedItem struct {
	Position   int64     `bson:"position"`
	MedicineID string    `bson:"medicine_id"`
	Resolved   string    `bson:"resolved"`
	Name       string    `bson:"name"`
	Quantity   int       `bson:"quantity"`
	Expiry     time.Time `bson:"expiry"`
	CreatedAt  time.Time `bson:"created_at"`
}

// joinedDoc is one $group output row of the aggregate pipeline.
type joinedDoc struct {
	ID          string       `bson:"_id"`
	PatientID   string       `bson:"patient_id"`
	PatientName string       `bson:"patient_name"`
	Description string       `bson:"description"`
	Completed   bool         `bson:"completed"`
	Expiry      time.Time    `bson:"expiry"`
	CreatedAt   time.Time    `bson:"created_at"`
	DoctorID    string       `bson:"doctor_id"`
	Medicines   []joinedItem `bson:"medicines"`
}

func detailsPipeline(doctorID uuid.UUID, limit, offset int) mongo.Pipeline {
	newestFirst := bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}
	first := func(field string) bson.M { return bson.M{"$first": "$" + field} }
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"doctor_id": doctorID.String()}}},
		{{Key: "$sort", Value: newestFirst}},
		{{Key: "$skip", Value: int64(offset)}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$unwind", Value: bson.M{
			"path":                       "$medicines",
			"includeArrayIndex":          "position",
			"preserveNullAndEmptyArrays": true,
		}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         docstore.Medicines,
			"localField":   "medicines.medicine_id",
			"foreignField": "_id",
			"as":           "medicine",
		}}},
		{{Key: "$unwind", Value: bson.M{"path": "$medicine", "preserveNullAndEmptyArrays": true}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}, {Key: "position", Value: 1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$_id",
			"patient_id":   first("patient_id"),
			"patient_name": first("patient_name"),
			"description":  first("description"),
			"completed":    first("completed"),
			"expiry":       first("expiry"),
			"created_at":   first("created_at"),
			"doctor_id":    first("doctor_id"),
			"medicines": bson.M{"$push": bson.M{
				"position":    "$position",
				"medicine_id": "$medicines.medicine_id",
				"resolved":    "$medicine._id",
				"name":        "$medicine.name",
				"quantity":    "$medicines.quantity",
				"expiry":      "$medicine.expiry",
				"created_at":  "$medicine.created_at",
			}},
		}}},
		{{Key: "$sort", Value: newestFirst}},
	}
}

func (r *prescriptionRepoMongo) ListDetailsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{"doctor_id": doctorID.String()})
	if err != nil {
		return nil, 0, docstore.Classify("count prescriptions", err)
	}
	cur, err := r.coll.Aggregate(ctx, detailsPipeline(doctorID, limit, offset))
	if err != nil {
		return nil, 0, docstore.Classify("aggregate prescriptions", err)
	}
	var docs []joinedDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, docstore.Classify("decode aggregate", err)
	}

	out := make([]*Detail, 0, len(docs))
	for _, jd := range docs {
		d, err := jd.detail()
		if err != nil {
			return nil, 0, docstore.Classify("decode aggregate", err)
		}
		out = append(out, d)
	}
	return out, int(total), nil
}

// detail converts a grouped row. Entries whose lookup found no medicine, and
// the placeholder left by unwinding an empty list, carry no resolved id and
// are dropped.
func (jd joinedDoc) detail() (*Detail, error) {
	id, err := uuid.Parse(jd.ID)
	if err != nil {
		return nil, err
	}
	doctorID, err := uuid.Parse(jd.DoctorID)
	if err != nil {
		return nil, err
	}
	d := &Detail{
		ID:          id,
		PatientID:   jd.PatientID,
		PatientName: jd.PatientName,
		Description: jd.Description,
		Completed:   jd.Completed,
		Medicines:   []JoinedMedicine{},
		Expiry:      jd.Expiry,
		CreatedAt:   jd.CreatedAt,
		DoctorID:    doctorID,
	}
	meds := jd.Medicines
	sort.SliceStable(meds, func(i, j int) bool { return meds[i].Position < meds[j].Position })
	for _, m := range meds {
		if m.Resolved == "" {
			continue
		}
		mid, err := uuid.Parse(m.Resolved)
		if err != nil {
			return nil, err
		}
		d.Medicines = append(d.Medicines, JoinedMedicine{
			MedicineID:   mid,
			MedicineName: m.Name,
			Quantity:     m.Quantity,
			Expiry:       m.Expiry,
			CreatedAt:    m.CreatedAt,
		})
	}
	return d, nil
}
