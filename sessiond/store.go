// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"sync"

	"github.com/omec-project/sessiond/logger"
)

// SessionMap groups the live sessions of an enforcer pass by imsi.
type SessionMap map[string][]*SessionState

// SessionStore is the durable home of all sessions. Mutation goes through
// UpdateSessions with optimistic concurrency: the journal is merged onto the
// stored copy and refused on conflict, in which case the caller reloads.
type SessionStore interface {
	// CreateSession persists a brand-new session.
	CreateSession(session *SessionState) error
	// ReadSessions materializes the sessions of the given subscribers.
	ReadSessions(imsis []string) (SessionMap, error)
	// ReadAllSessions materializes every stored session.
	ReadAllSessions() (SessionMap, error)
	// UpdateSessions commits an update-criteria batch. It reports false if
	// any journal could not be merged cleanly.
	UpdateSessions(update SessionUpdate) bool
}

type sessionRecord struct {
	data    []byte
	version uint64
}

type subscriberSessions struct {
	mu   sync.Mutex
	byID map[string]*sessionRecord
}

// InMemoryStore keeps serialized sessions in process memory.
// sync.Map is optimized for the usage here: disjoint subscriber keys
// read and written by concurrent enforcer passes.
type InMemoryStore struct {
	subscribers sync.Map

	ruleStore *RuleStore
	behavior  CreditBehavior
}

func NewInMemoryStore(ruleStore *RuleStore, behavior CreditBehavior) *InMemoryStore {
	return &InMemoryStore{
		ruleStore: ruleStore,
		behavior:  behavior,
	}
}

func (i *InMemoryStore) subscriber(imsi string) *subscriberSessions {
	actual, _ := i.subscribers.LoadOrStore(imsi, &subscriberSessions{byID: make(map[string]*sessionRecord)})
	return actual.(*subscriberSessions)
}

func (i *InMemoryStore) CreateSession(session *SessionState) error {
	data, err := SerializeStoredSession(session.Marshal())
	if err != nil {
		return err
	}

	sub := i.subscriber(session.Imsi())

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if _, ok := sub.byID[session.SessionID()]; ok {
		return ErrInvalidArgumentWithReason("session_id", session.SessionID(), "session already exists")
	}

	sub.byID[session.SessionID()] = &sessionRecord{data: data, version: 1}

	logger.StoreLog.With("imsi", session.Imsi(), "session_id", session.SessionID()).
		Debugln("session saved to local store")

	return nil
}

func (i *InMemoryStore) ReadSessions(imsis []string) (SessionMap, error) {
	sessionMap := make(SessionMap, len(imsis))

	for _, imsi := range imsis {
		sessionMap[imsi] = []*SessionState{}

		value, ok := i.subscribers.Load(imsi)
		if !ok {
			continue
		}

		sub := value.(*subscriberSessions)

		sub.mu.Lock()

		for _, record := range sub.byID {
			session, err := i.materialize(record)
			if err != nil {
				sub.mu.Unlock()
				return nil, err
			}

			sessionMap[imsi] = append(sessionMap[imsi], session)
		}

		sub.mu.Unlock()
	}

	return sessionMap, nil
}

func (i *InMemoryStore) ReadAllSessions() (SessionMap, error) {
	sessionMap := make(SessionMap)

	var err error

	i.subscribers.Range(func(key, value interface{}) bool {
		imsi := key.(string)
		sub := value.(*subscriberSessions)

		sub.mu.Lock()
		defer sub.mu.Unlock()

		for _, record := range sub.byID {
			var session *SessionState

			session, err = i.materialize(record)
			if err != nil {
				return false
			}

			sessionMap[imsi] = append(sessionMap[imsi], session)
		}

		return true
	})

	if err != nil {
		return nil, err
	}

	return sessionMap, nil
}

func (i *InMemoryStore) materialize(record *sessionRecord) (*SessionState, error) {
	stored, err := DeserializeStoredSession(record.data)
	if err != nil {
		return nil, err
	}

	return NewSessionStateFromStored(stored, i.ruleStore, i.behavior), nil
}

func (i *InMemoryStore) UpdateSessions(update SessionUpdate) bool {
	for imsi, bySession := range update {
		value, ok := i.subscribers.Load(imsi)
		if !ok {
			logger.StoreLog.With("imsi", imsi).Warnln("update for unknown subscriber refused")
			return false
		}

		sub := value.(*subscriberSessions)

		sub.mu.Lock()

		for sessionID, uc := range bySession {
			record, ok := sub.byID[sessionID]
			if !ok {
				sub.mu.Unlock()
				logger.StoreLog.With("imsi", imsi, "session_id", sessionID).
					Warnln("update for unknown session refused")
				return false
			}

			if uc.IsSessionEnded {
				delete(sub.byID, sessionID)
				continue
			}

			session, err := i.materialize(record)
			if err != nil {
				sub.mu.Unlock()
				return false
			}

			if err := session.ApplyUpdateCriteria(uc); err != nil {
				sub.mu.Unlock()
				logger.StoreLog.With("imsi", imsi, "session_id", sessionID).
					Warnln("merge refused:", err)
				return false
			}

			data, err := SerializeStoredSession(session.Marshal())
			if err != nil {
				sub.mu.Unlock()
				return false
			}

			record.data = data
			record.version++
		}

		sub.mu.Unlock()
	}

	return true
}
