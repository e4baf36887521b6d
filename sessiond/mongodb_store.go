// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/omec-project/sessiond/logger"
)

const mongoOpTimeout = 20 * time.Second

// MongoDBStore persists sessions in MongoDB. The per-document version field
// backs the optimistic concurrency of UpdateSessions: replacements are
// filtered on the version that was read, so a concurrent writer makes the
// commit fail and the caller reloads.
type MongoDBStore struct {
	client *mongo.Client
	db     string
	coll   string

	ruleStore *RuleStore
	behavior  CreditBehavior
}

type sessionDoc struct {
	Imsi      string `bson:"imsi"`
	SessionID string `bson:"session_id"`
	Version   uint64 `bson:"version"`
	Data      []byte `bson:"data"`
}

func NewMongoDBStore(uri string, ruleStore *RuleStore, behavior CreditBehavior) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	serverAPIOptions := options.ServerAPI(options.ServerAPIVersion1)
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(serverAPIOptions)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	return &MongoDBStore{
		client:    client,
		db:        "sessionsDatabase",
		coll:      "sessions",
		ruleStore: ruleStore,
		behavior:  behavior,
	}, nil
}

func (m *MongoDBStore) collection() *mongo.Collection {
	return m.client.Database(m.db).Collection(m.coll)
}

func (m *MongoDBStore) CreateSession(session *SessionState) error {
	data, err := SerializeStoredSession(session.Marshal())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	doc := sessionDoc{
		Imsi:      session.Imsi(),
		SessionID: session.SessionID(),
		Version:   1,
		Data:      data,
	}

	_, err = m.collection().InsertOne(ctx, doc)
	if err != nil {
		return err
	}

	logger.StoreLog.With("imsi", session.Imsi(), "session_id", session.SessionID()).
		Debugln("session saved to mongodb store")

	return nil
}

func (m *MongoDBStore) ReadSessions(imsis []string) (SessionMap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	sessionMap := make(SessionMap, len(imsis))
	for _, imsi := range imsis {
		sessionMap[imsi] = []*SessionState{}
	}

	cur, err := m.collection().Find(ctx, bson.M{"imsi": bson.M{"$in": imsis}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc sessionDoc

		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}

		session, err := m.materialize(doc)
		if err != nil {
			return nil, err
		}

		sessionMap[doc.Imsi] = append(sessionMap[doc.Imsi], session)
	}

	return sessionMap, cur.Err()
}

func (m *MongoDBStore) ReadAllSessions() (SessionMap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	sessionMap := make(SessionMap)

	cur, err := m.collection().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc sessionDoc

		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}

		session, err := m.materialize(doc)
		if err != nil {
			return nil, err
		}

		sessionMap[doc.Imsi] = append(sessionMap[doc.Imsi], session)
	}

	return sessionMap, cur.Err()
}

func (m *MongoDBStore) materialize(doc sessionDoc) (*SessionState, error) {
	stored, err := DeserializeStoredSession(doc.Data)
	if err != nil {
		return nil, err
	}

	return NewSessionStateFromStored(stored, m.ruleStore, m.behavior), nil
}

func (m *MongoDBStore) UpdateSessions(update SessionUpdate) bool {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	for imsi, bySession := range update {
		for sessionID, uc := range bySession {
			filter := bson.M{"imsi": imsi, "session_id": sessionID}

			if uc.IsSessionEnded {
				if _, err := m.collection().DeleteOne(ctx, filter); err != nil {
					logger.StoreLog.With("imsi", imsi, "session_id", sessionID).
						Warnln("session delete failed:", err)
					return false
				}

				continue
			}

			var doc sessionDoc

			if err := m.collection().FindOne(ctx, filter).Decode(&doc); err != nil {
				logger.StoreLog.With("imsi", imsi, "session_id", sessionID).
					Warnln("update for unknown session refused:", err)
				return false
			}

			session, err := m.materialize(doc)
			if err != nil {
				return false
			}

			if err := session.ApplyUpdateCriteria(uc); err != nil {
				logger.StoreLog.With("imsi", imsi, "session_id", sessionID).
					Warnln("merge refused:", err)
				return false
			}

			data, err := SerializeStoredSession(session.Marshal())
			if err != nil {
				return false
			}

			replacement := sessionDoc{
				Imsi:      imsi,
				SessionID: sessionID,
				Version:   doc.Version + 1,
				Data:      data,
			}

			casFilter := bson.M{"imsi": imsi, "session_id": sessionID, "version": doc.Version}

			res, err := m.collection().ReplaceOne(ctx, casFilter, replacement)
			if err != nil {
				return false
			}

			if res.ModifiedCount == 0 {
				logger.StoreLog.With("imsi", imsi, "session_id", sessionID).
					Warnln("optimistic concurrency conflict, commit refused")
				return false
			}
		}
	}

	return true
}
