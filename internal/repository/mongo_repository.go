package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/valnet/cart-service/internal/domain"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrCartExists   = errors.New("cart already exists for user")
)

type mongoStore struct {
	carts *mongo.Collection
	items *mongo.Collection
}

func NewMongoStore(db *mongo.Database) CartStore {
	return &mongoStore{
		carts: db.Collection("carts"),
		items: db.Collection("items"),
	}
}

func (m mongoStore) GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.carts.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

func (m mongoStore) CreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		UpdatedAt: time.Now(),
	}

	_, err := m.carts.InsertOne(ctx, cart)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrCartExists
		}
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	return cart, nil
}

func (m mongoStore) ListItems(ctx context.Context, cartID string) ([]domain.LineItem, error) {
	filter := bson.M{"cart_id": cartID}
	// insertion order: added_at, with the ObjectID-hex item key as tiebreak
	opts := options.Find().SetSort(bson.D{{Key: "added_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer cursor.Close(ctx)

	items := []domain.LineItem{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}

	return items, nil
}

// UpsertItem inserts or updates the line item keyed by (cart_id, product_id)
// in a single FindOneAndUpdate backed by a unique compound index, so two
// concurrent adds for the same product cannot create duplicate items.
func (m mongoStore) UpsertItem(ctx context.Context, cartID string, productID int64, quantity int, unitPrice float64) (*domain.LineItem, error) {
	filter := bson.M{
		"cart_id":    cartID,
		"product_id": productID,
	}
	update := bson.M{
		"$set": bson.M{
			"quantity":   quantity,
			"unit_price": unitPrice,
		},
		"$setOnInsert": bson.M{
			// ObjectID hex preserves generation order lexicographically,
			// making it a usable tiebreak for same-millisecond inserts
			"_id":      primitive.NewObjectID().Hex(),
			"added_at": time.Now(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var item domain.LineItem
	if err := m.items.FindOneAndUpdate(ctx, filter, update, opts).Decode(&item); err != nil {
		return nil, fmt.Errorf("failed to upsert item: %w", err)
	}

	return &item, nil
}

func (m mongoStore) TouchCart(ctx context.Context, cartID string, ts time.Time) error {
	update := bson.M{"$set": bson.M{"updated_at": ts}}

	result, err := m.carts.UpdateByID(ctx, cartID, update)
	if err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}

	return nil
}

// RefreshProductPrice persists a reconciled unit price into every stored line
// item referencing the product and returns the owning users, so callers can
// invalidate their cached cart state.
func (m mongoStore) RefreshProductPrice(ctx context.Context, productID int64, price float64) ([]string, error) {
	filter := bson.M{"product_id": productID}

	cartIDs, err := m.items.Distinct(ctx, "cart_id", filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find carts for product: %w", err)
	}
	if len(cartIDs) == 0 {
		return nil, nil
	}

	update := bson.M{"$set": bson.M{"unit_price": price}}
	if _, err := m.items.UpdateMany(ctx, filter, update); err != nil {
		return nil, fmt.Errorf("failed to refresh product price: %w", err)
	}

	cursor, err := m.carts.Find(ctx, bson.M{"_id": bson.M{"$in": cartIDs}})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cart owners: %w", err)
	}
	defer cursor.Close(ctx)

	var carts []domain.Cart
	if err := cursor.All(ctx, &carts); err != nil {
		return nil, fmt.Errorf("failed to decode carts: %w", err)
	}

	users := make([]string, len(carts))
	for i, c := range carts {
		users[i] = c.UserID
	}
	return users, nil
}

// EnsureIndexes creates the indexes the store depends on. The unique ones are
// correctness constraints, not just performance: user_id enforces one cart per
// user, (cart_id, product_id) backs the atomic item upsert.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	cartIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	itemIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "cart_id", Value: 1}, {Key: "product_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "product_id", Value: 1}},
		},
	}

	if _, err := db.Collection("carts").Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	if _, err := db.Collection("items").Indexes().CreateMany(ctx, itemIndexes); err != nil {
		return fmt.Errorf("failed to create item indexes: %w", err)
	}

	return nil
}
