package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
)

const (
	usersCollection = "users"
	plansCollection = "plans"
	decksCollection = "decks"

	usageField    = "aiUsage"
	planRefField  = "subscription.planId"
	activityField = "activity"
)

// MongoStore implements the credit subsystem's storage contracts over
// the users, plans and decks collections. Every mutating method is a
// single conditional update so MongoDB's document-level atomicity
// provides the serialization the ledger relies on.
type MongoStore struct {
	users *mongo.Collection
	plans *mongo.Collection
	decks *mongo.Collection
}

// NewMongoStore creates a MongoStore bound to db's collections.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		users: db.Collection(usersCollection),
		plans: db.Collection(plansCollection),
		decks: db.Collection(decksCollection),
	}
}

// GetUsage implements credits.UsageStore.
func (s *MongoStore) GetUsage(ctx context.Context, userID uuid.UUID) (credits.UsageRecord, error) {
	var doc struct {
		AIUsage bson.RawValue `bson:"aiUsage"`
	}
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}},
		options.FindOne().SetProjection(bson.D{{Key: usageField, Value: 1}})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credits.UsageRecord{}, credits.ErrUserNotFound
		}
		return credits.UsageRecord{}, err
	}

	return decodeUsageValue(doc.AIUsage)
}

// decodeUsageValue turns the raw aiUsage field into the explicit tagged
// representation. Shape is decided by the stored BSON type up front, not
// by a failed update.
func decodeUsageValue(raw bson.RawValue) (credits.UsageRecord, error) {
	switch raw.Type {
	case 0: // field absent from the document
		return credits.UsageRecord{Shape: credits.ShapeAbsent}, nil
	case bson.TypeNull:
		return credits.UsageRecord{Shape: credits.ShapeAbsent}, nil
	case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble:
		return credits.UsageRecord{
			Shape:         credits.ShapeLegacy,
			LegacyCredits: raw.AsInt64(),
		}, nil
	case bson.TypeEmbeddedDocument:
		var used map[credits.Feature]int64
		if err := raw.Unmarshal(&used); err != nil {
			return credits.UsageRecord{}, errors.Join(credits.ErrStorageConflict, err)
		}
		return credits.UsageRecord{Shape: credits.ShapeStructured, Used: used}, nil
	default:
		return credits.UsageRecord{}, errors.Join(credits.ErrStorageConflict,
			fmt.Errorf("unexpected %s type %s", usageField, raw.Type))
	}
}

// IncrementUsage implements credits.UsageStore. The filter carries the
// full admission predicate: the record must already be structured and
// the incremented counter must stay within limit. Whichever concurrent
// reservation commits first shrinks the headroom the next one is
// checked against.
func (s *MongoStore) IncrementUsage(ctx context.Context, userID uuid.UUID, feature credits.Feature, cost, limit int64) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		incrementFilter(userID, feature, cost, limit),
		bson.D{{Key: "$inc", Value: bson.D{{Key: usagePath(feature), Value: cost}}}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// DecrementUsage implements credits.UsageStore. Only the structured-shape
// predicate applies; no lower bound is enforced.
func (s *MongoStore) DecrementUsage(ctx context.Context, userID uuid.UUID, feature credits.Feature, amount int64) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		structuredFilter(userID),
		bson.D{{Key: "$inc", Value: bson.D{{Key: usagePath(feature), Value: -amount}}}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// SeedStructured implements credits.UsageStore. The not-yet-structured
// predicate makes the migration idempotent under races: the losing
// writer matches nothing and reports false.
func (s *MongoStore) SeedStructured(ctx context.Context, userID uuid.UUID, feature credits.Feature, cost int64) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		notStructuredFilter(userID),
		bson.D{{Key: "$set", Value: bson.D{{Key: usageField, Value: seedDocument(feature, cost)}}}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// PlanRef resolves the plan reference a user is subscribed to; satisfies
// credits.PlanRefResolver.
func (s *MongoStore) PlanRef(ctx context.Context, userID uuid.UUID) (string, error) {
	var doc struct {
		Subscription struct {
			PlanID string `bson:"planId"`
		} `bson:"subscription"`
	}
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}},
		options.FindOne().SetProjection(bson.D{{Key: planRefField, Value: 1}})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", credits.ErrUserNotFound
		}
		return "", err
	}
	return doc.Subscription.PlanID, nil
}

// FindPlanByID implements credits.PlanStore.
func (s *MongoStore) FindPlanByID(ctx context.Context, id string) (*credits.Plan, error) {
	var plan credits.Plan
	err := s.plans.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&plan)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, credits.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// CountDecks returns the number of decks owned by a user; satisfies
// credits.ResourceCounter. ownerId is indexed, so this stays a cheap
// index count.
func (s *MongoStore) CountDecks(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.decks.CountDocuments(ctx, bson.D{{Key: "ownerId", Value: userID.String()}})
}

// BumpMonthly implements credits.ActivityStore with a single pipeline
// update: the counter accumulates while the stored month key matches and
// restarts from delta when the month rolls over.
func (s *MongoStore) BumpMonthly(ctx context.Context, userID uuid.UUID, kind credits.ActivityKind, monthKey string, delta int64) (int64, error) {
	var doc struct {
		Activity map[credits.ActivityKind]monthlyCounterDoc `bson:"activity"`
	}
	err := s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: userID.String()}},
		mongo.Pipeline{bumpMonthlyStage(kind, monthKey, delta)},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.D{{Key: activityField, Value: 1}})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, credits.ErrUserNotFound
		}
		return 0, err
	}
	return doc.Activity[kind].Count, nil
}

// MonthlyCount implements credits.ActivityStore. A counter carrying a
// stale month key reads as zero.
func (s *MongoStore) MonthlyCount(ctx context.Context, userID uuid.UUID, kind credits.ActivityKind, monthKey string) (int64, error) {
	var doc struct {
		Activity map[credits.ActivityKind]monthlyCounterDoc `bson:"activity"`
	}
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}},
		options.FindOne().SetProjection(bson.D{{Key: activityField, Value: 1}})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, credits.ErrUserNotFound
		}
		return 0, err
	}
	c, ok := doc.Activity[kind]
	if !ok || c.MonthKey != monthKey {
		return 0, nil
	}
	return c.Count, nil
}

type monthlyCounterDoc struct {
	MonthKey string `bson:"monthKey"`
	Count    int64  `bson:"count"`
}

// usagePath returns the dotted document path of a feature's used-counter.
func usagePath(feature credits.Feature) string {
	return usageField + "." + string(feature)
}

func activityPath(kind credits.ActivityKind) string {
	return activityField + "." + string(kind)
}

// structuredFilter matches the user only when the usage record already
// holds the per-feature map.
func structuredFilter(userID uuid.UUID) bson.D {
	return bson.D{
		{Key: "_id", Value: userID.String()},
		{Key: usageField, Value: bson.D{{Key: "$type", Value: "object"}}},
	}
}

// notStructuredFilter matches the user while the usage record is still
// the legacy scalar or absent entirely.
func notStructuredFilter(userID uuid.UUID) bson.D {
	return bson.D{
		{Key: "_id", Value: userID.String()},
		{Key: usageField, Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$type", Value: "object"}}}}},
	}
}

// incrementFilter is the admission predicate for a reservation. Beyond
// the structured-shape check it bounds the post-increment counter with
// an $expr, which is what makes check-then-increment races safe: the
// losing writer's filter no longer matches once the winner commits.
func incrementFilter(userID uuid.UUID, feature credits.Feature, cost, limit int64) bson.D {
	filter := structuredFilter(userID)
	if limit == credits.Unlimited {
		return filter
	}
	current := bson.D{{Key: "$ifNull", Value: bson.A{"$" + usagePath(feature), int64(0)}}}
	bound := bson.D{{Key: "$lte", Value: bson.A{
		bson.D{{Key: "$add", Value: bson.A{current, cost}}},
		limit,
	}}}
	return append(filter, bson.E{Key: "$expr", Value: bound})
}

// seedDocument is the freshly migrated structured map: every credit
// feature at zero except the one whose reservation triggered the
// migration.
func seedDocument(feature credits.Feature, cost int64) bson.D {
	doc := make(bson.D, 0, 4)
	for _, f := range credits.CreditFeatures() {
		v := int64(0)
		if f == feature {
			v = cost
		}
		doc = append(doc, bson.E{Key: string(f), Value: v})
	}
	return doc
}

// bumpMonthlyStage builds the $set pipeline stage for BumpMonthly.
func bumpMonthlyStage(kind credits.ActivityKind, monthKey string, delta int64) bson.D {
	path := activityPath(kind)
	sameMonth := bson.D{{Key: "$eq", Value: bson.A{"$" + path + ".monthKey", monthKey}}}
	accumulated := bson.D{
		{Key: "monthKey", Value: monthKey},
		{Key: "count", Value: bson.D{{Key: "$add", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$" + path + ".count", int64(0)}}},
			delta,
		}}}},
	}
	restarted := bson.D{
		{Key: "monthKey", Value: monthKey},
		{Key: "count", Value: delta},
	}
	return bson.D{{Key: "$set", Value: bson.D{{Key: path, Value: bson.D{
		{Key: "$cond", Value: bson.A{sameMonth, accumulated, restarted}},
	}}}}}
}
