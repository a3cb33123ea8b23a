// Package mongo stores the social graph and messages in MongoDB.
//
// Pending requests live on the recipient's user document, as an ordered
// array updated with atomic $push/$pull operators. Friendships are one
// document per unordered pair with an order-independent _id, so an edge is
// created or destroyed by a single write. Accept first moves the request to
// an acceptedRequests array on the same document and then writes the edge;
// an interruption between the two leaves a claim that Repair completes.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/types"
)

type friendship struct {
	ID        string    `bson:"_id"`
	Users     []string  `bson:"users"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Store is a MongoDB backed graph and message store.
type Store struct {
	client      *mongo.Client
	users       *mongo.Collection
	friendships *mongo.Collection
	messages    *mongo.Collection
	counters    *mongo.Collection
	now         func() time.Time
}

// Open connects to uri and prepares the collections in database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:      client,
		users:       db.Collection("users"),
		friendships: db.Collection("friendships"),
		messages:    db.Collection("messages"),
		counters:    db.Collection("counters"),
		now:         time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to index users: %w", err)
	}

	_, err = s.friendships.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "users", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to index friendships: %w", err)
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender", Value: 1},
			{Key: "receiver", Value: 1},
			{Key: "createdAt", Value: 1},
			{Key: "seq", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to index messages: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = s.timestamp()
	u.Friends = []string{}
	u.FriendRequests = []string{}
	u.Blocked = []string{}

	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("username %s is already taken", u.Username)
		}
		return apperr.Internal(err, "failed to create user")
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	return s.getUser(ctx, bson.M{"_id": id}, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return s.getUser(ctx, bson.M{"username": username}, username)
}

func (s *Store) getUser(ctx context.Context, filter bson.M, key string) (*types.User, error) {
	var u types.User
	err := s.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("user %s not found", key)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}

	if u.FriendRequests == nil {
		u.FriendRequests = []string{}
	}
	if u.Blocked == nil {
		u.Blocked = []string{}
	}

	u.Friends, err = s.friendsOf(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) friendsOf(ctx context.Context, id string) ([]string, error) {
	cursor, err := s.friendships.Find(ctx, bson.M{"users": id})
	if err != nil {
		return nil, apperr.Internal(err, "failed to load friends")
	}
	var edges []friendship
	if err := cursor.All(ctx, &edges); err != nil {
		return nil, apperr.Internal(err, "failed to read friends")
	}

	friends := make([]string, 0, len(edges))
	for _, e := range edges {
		for _, other := range e.Users {
			if other != id {
				friends = append(friends, other)
			}
		}
	}
	sort.Strings(friends)
	return friends, nil
}

func (s *Store) GetProfiles(ctx context.Context, ids []string) ([]types.Profile, error) {
	profiles := []types.Profile{}
	if len(ids) == 0 {
		return profiles, nil
	}

	found, err := s.findProfiles(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, err
	}

	byID := make(map[string]types.Profile, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

func (s *Store) CreateRequest(ctx context.Context, sender, recipient string) error {
	if sender == recipient {
		return apperr.Conflict("cannot send a friend request to yourself")
	}

	n, err := s.friendships.CountDocuments(ctx, bson.M{"_id": edgeID(sender, recipient)})
	if err != nil {
		return apperr.Internal(err, "failed to check friendship")
	}
	if n > 0 {
		return apperr.Conflict("already friends")
	}

	n, err = s.users.CountDocuments(ctx, bson.M{"_id": sender, "pendingFriendRequests": recipient})
	if err != nil {
		return apperr.Internal(err, "failed to check friend requests")
	}
	if n > 0 {
		return apperr.Conflict("a friend request from this user is already waiting for you")
	}

	res, err := s.users.UpdateOne(ctx,
		bson.M{
			"_id":                   recipient,
			"pendingFriendRequests": bson.M{"$ne": sender},
			"blocked":               bson.M{"$ne": sender},
		},
		bson.M{"$push": bson.M{"pendingFriendRequests": sender}},
	)
	if err != nil {
		return apperr.Internal(err, "failed to create friend request")
	}
	if res.MatchedCount == 0 {
		r, err := s.GetUser(ctx, recipient)
		if err != nil {
			return err
		}
		for _, b := range r.Blocked {
			if b == sender {
				return apperr.Authorization("this user does not accept requests from you")
			}
		}
		return apperr.Conflict("friend request already sent")
	}

	// an accept that wrote the edge after the check above has already
	// cleared the pending lists, so this request must be withdrawn
	n, err = s.friendships.CountDocuments(ctx, bson.M{"_id": edgeID(sender, recipient)})
	if err != nil {
		return apperr.Internal(err, "failed to check friendship")
	}
	if n > 0 {
		if _, err := s.RemoveRequest(ctx, recipient, sender); err != nil {
			return err
		}
		return apperr.Conflict("already friends")
	}
	return nil
}

// AcceptRequest claims the pending request and then writes the edge. The
// claim moves requester from the pending list to acceptedRequests in one
// update, so only one of several concurrent accepts or rejects wins it.
func (s *Store) AcceptRequest(ctx context.Context, user, requester string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": user, "pendingFriendRequests": requester},
		bson.M{
			"$pull":     bson.M{"pendingFriendRequests": requester},
			"$addToSet": bson.M{"acceptedRequests": requester},
		},
	)
	if err != nil {
		return apperr.Internal(err, "failed to claim friend request")
	}
	if res.ModifiedCount == 0 {
		return apperr.Conflict("friend request does not exist")
	}

	// an error from here on leaves the claim in place for Repair
	return s.completeAccept(ctx, user, requester)
}

func (s *Store) completeAccept(ctx context.Context, user, requester string) error {
	low, high := edge(user, requester)
	_, err := s.friendships.InsertOne(ctx, friendship{
		ID:        edgeID(user, requester),
		Users:     []string{low, high},
		CreatedAt: s.timestamp(),
	})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return apperr.Internal(err, "failed to create friendship")
	}

	// requests sent in either direction while the accept was in flight are
	// cleared with the claim
	_, err = s.users.UpdateOne(ctx,
		bson.M{"_id": user},
		bson.M{"$pull": bson.M{"acceptedRequests": requester, "pendingFriendRequests": requester}},
	)
	if err != nil {
		return apperr.Internal(err, "failed to clear accepted request")
	}
	_, err = s.users.UpdateOne(ctx,
		bson.M{"_id": requester},
		bson.M{"$pull": bson.M{"pendingFriendRequests": user}},
	)
	if err != nil {
		return apperr.Internal(err, "failed to clear friend request")
	}
	return nil
}

func (s *Store) RemoveRequest(ctx context.Context, user, requester string) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": user},
		bson.M{"$pull": bson.M{"pendingFriendRequests": requester}},
	)
	if err != nil {
		return false, apperr.Internal(err, "failed to remove friend request")
	}
	return res.ModifiedCount > 0, nil
}

func (s *Store) RemoveFriend(ctx context.Context, user, other string) error {
	res, err := s.friendships.DeleteOne(ctx, bson.M{"_id": edgeID(user, other)})
	if err != nil {
		return apperr.Internal(err, "failed to remove friendship")
	}
	if res.DeletedCount == 0 {
		return apperr.Conflict("you are not friends with this user")
	}
	return nil
}

// Block adds other to user's block list and pulls any request from other in
// the same update.
func (s *Store) Block(ctx context.Context, user, other string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": user},
		bson.M{
			"$addToSet": bson.M{"blocked": other},
			"$pull":     bson.M{"pendingFriendRequests": other},
		},
	)
	if err != nil {
		return apperr.Internal(err, "failed to block user")
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("user %s not found", user)
	}
	return nil
}

func (s *Store) Unblock(ctx context.Context, user, other string) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": user},
		bson.M{"$pull": bson.M{"blocked": other}},
	)
	if err != nil {
		return apperr.Internal(err, "failed to unblock user")
	}
	return nil
}

func (s *Store) Suggestions(ctx context.Context, user string, limit int) ([]types.Profile, error) {
	u, err := s.GetUser(ctx, user)
	if err != nil {
		return nil, err
	}

	exclude := []string{user}
	exclude = append(exclude, u.Friends...)
	exclude = append(exclude, u.FriendRequests...)
	exclude = append(exclude, u.Blocked...)

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return s.findProfiles(ctx, bson.M{
		"_id":                   bson.M{"$nin": exclude},
		"pendingFriendRequests": bson.M{"$ne": user},
		"blocked":               bson.M{"$ne": user},
	}, opts)
}

func (s *Store) SearchUsers(ctx context.Context, query string, limit int) ([]types.Profile, error) {
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}

	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return s.findProfiles(ctx, bson.M{
		"$or": bson.A{
			bson.M{"displayName": pattern},
			bson.M{"username": pattern},
		},
	}, opts)
}

func (s *Store) findProfiles(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]types.Profile, error) {
	opts.SetProjection(bson.M{"_id": 1, "username": 1, "displayName": 1})

	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Internal(err, "failed to query users")
	}
	profiles := []types.Profile{}
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, apperr.Internal(err, "failed to read users")
	}
	return profiles, nil
}

// Repair finishes accepts interrupted after their claim and removes pending
// requests between users who are already friends.
func (s *Store) Repair(ctx context.Context) (int, error) {
	repaired, err := s.repairClaims(ctx)
	if err != nil {
		return repaired, err
	}

	cursor, err := s.users.Find(ctx, bson.M{"pendingFriendRequests.0": bson.M{"$exists": true}})
	if err != nil {
		return repaired, apperr.Internal(err, "failed to scan friend requests")
	}
	var users []types.User
	if err := cursor.All(ctx, &users); err != nil {
		return repaired, apperr.Internal(err, "failed to read friend requests")
	}

	for _, u := range users {
		for _, sender := range u.FriendRequests {
			n, err := s.friendships.CountDocuments(ctx, bson.M{"_id": edgeID(u.ID, sender)})
			if err != nil {
				return repaired, apperr.Internal(err, "failed to check friendship")
			}
			if n == 0 {
				continue
			}
			pulled, err := s.RemoveRequest(ctx, u.ID, sender)
			if err != nil {
				return repaired, err
			}
			if pulled {
				repaired++
			}
		}
	}
	return repaired, nil
}

func (s *Store) repairClaims(ctx context.Context) (int, error) {
	cursor, err := s.users.Find(ctx,
		bson.M{"acceptedRequests.0": bson.M{"$exists": true}},
		options.Find().SetProjection(bson.M{"_id": 1, "acceptedRequests": 1}),
	)
	if err != nil {
		return 0, apperr.Internal(err, "failed to scan accepted requests")
	}
	var claims []struct {
		ID       string   `bson:"_id"`
		Accepted []string `bson:"acceptedRequests"`
	}
	if err := cursor.All(ctx, &claims); err != nil {
		return 0, apperr.Internal(err, "failed to read accepted requests")
	}

	repaired := 0
	for _, c := range claims {
		for _, requester := range c.Accepted {
			if err := s.completeAccept(ctx, c.ID, requester); err != nil {
				return repaired, err
			}
			repaired++
		}
	}
	return repaired, nil
}

func (s *Store) SaveMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "messages"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return apperr.Internal(err, "failed to allocate message sequence")
	}

	m.Seq = counter.Seq
	m.CreatedAt = s.timestamp()

	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return apperr.Internal(err, "failed to save message")
	}
	return nil
}

func (s *Store) History(ctx context.Context, a, b string, q types.HistoryQuery) ([]types.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.messages.Find(ctx, bson.M{
		"$or": bson.A{
			bson.M{"sender": a, "receiver": b},
			bson.M{"sender": b, "receiver": a},
		},
		"seq": bson.M{"$gt": q.After},
	}, opts)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load history")
	}

	messages := []types.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, apperr.Internal(err, "failed to read history")
	}
	return messages, nil
}

// timestamp returns now at the millisecond precision BSON dates keep.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func edge(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func edgeID(a, b string) string {
	low, high := edge(a, b)
	return low + "|" + high
}
