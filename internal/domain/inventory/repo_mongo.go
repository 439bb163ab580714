package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/clinic/internal/platform/docstore"
)

type medicineDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Quantity  int       `bson:"quantity"`
	Expiry    time.Time `bson:"expiry"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	NurseID   string    `bson:"nurse_id"`
}

func (d medicineDoc) medicine() (*Medicine, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	nurseID, err := uuid.Parse(d.NurseID)
	if err != nil {
		return nil, err
	}
	return &Medicine{
		ID:        id,
		Name:      d.Name,
		Quantity:  d.Quantity,
		Expiry:    d.Expiry,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		NurseID:   nurseID,
	}, nil
}

type medicineRepoMongo struct{ coll *mongo.Collection }

func NewMedicineRepoMongo(store *docstore.Store) Repository {
	return &medicineRepoMongo{coll: store.Collection(docstore.Medicines)}
}

func (r *medicineRepoMongo) Create(ctx context.Context, m *Medicine) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	m.UpdatedAt = m.CreatedAt
	_, err := r.coll.InsertOne(ctx, medicineDoc{
		ID:        m.ID.String(),
		Name:      m.Name,
		Quantity:  m.Quantity,
		Expiry:    m.Expiry,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		NurseID:   m.NurseID.String(),
	})
	return docstore.Classify("insert medicine", err)
}

func (r *medicineRepoMongo) findOne(ctx context.Context, filter bson.M) (*Medicine, error) {
	var d medicineDoc
	err := r.coll.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMedicineNotFound
	}
	if err != nil {
		return nil, docstore.Classify("find medicine", err)
	}
	m, err := d.medicine()
	if err != nil {
		return nil, docstore.Classify("decode medicine", err)
	}
	return m, nil
}

func (r *medicineRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *medicineRepoMongo) GetForNurse(ctx context.Context, id, nurseID uuid.UUID) (*Medicine, error) {
	return r.findOne(ctx, bson.M{"_id": id.String(), "nurse_id": nurseID.String()})
}

func (r *medicineRepoMongo) ListByNurse(ctx context.Context, nurseID uuid.UUID, limit, offset int) ([]*Medicine, int, error) {
	filter := bson.M{"nurse_id": nurseID.String()}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, docstore.Classify("count medicines", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, docstore.Classify("list medicines", err)
	}
	var docs []medicineDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, docstore.Classify("decode medicines", err)
	}

	items := make([]*Medicine, 0, len(docs))
	for _, d := range docs {
		m, err := d.medicine()
		if err != nil {
			return nil, 0, docstore.Classify("decode medicine", err)
		}
		items = append(items, m)
	}
	return items, int(total), nil
}

func (r *medicineRepoMongo) UpdateDetails(ctx context.Context, id, nurseID uuid.UUID, d Details) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if d.Name != nil {
		set["name"] = *d.Name
	}
	if d.Expiry != nil {
		set["expiry"] = *d.Expiry
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "nurse_id": nurseID.String()},
		bson.M{"$set": set})
	if err != nil {
		return docstore.Classify("update medicine", err)
	}
	if res.MatchedCount == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *medicineRepoMongo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	// The $gte guard makes the check and the decrement one document write.
	filter := bson.M{"_id": id.String(), "quantity": bson.M{"$gte": delta}}
	update := bson.M{
		"$inc": bson.M{"quantity": -delta},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var d medicineDoc
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if err == nil {
		return d.Quantity, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, docstore.Classify("adjust stock", err)
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return 0, docstore.Classify("adjust stock", err)
	}
	if n == 0 {
		return 0, ErrMedicineNotFound
	}
	return 0, ErrInsufficientStock
}

func (r *medicineRepoMongo) DeleteForNurse(ctx context.Context, id, nurseID uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String(), "nurse_id": nurseID.String()})
	if err != nil {
		return docstore.Classify("delete medicine", err)
	}
	if res.DeletedCount == 0 {
		return ErrMedicineNotFound
	}
	return nil
}
