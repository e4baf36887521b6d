// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package metrics

import "time"

// Message samples one upstream exchange with the controller.
type Message struct {
	MsgType   string
	Direction string
	Result    string

	StartedAt time.Time
	Duration  float64
}

func NewMessage(msgType, direction string) *Message {
	return &Message{
		MsgType:   msgType,
		Direction: direction,

		StartedAt: time.Now(),
	}
}

func (m *Message) Finish(result string) {
	m.Result = result
	m.Duration = time.Since(m.StartedAt).Seconds()
}

// Session samples the lifecycle of one subscriber session.
type Session struct {
	Imsi string

	CreatedAt time.Time
	Duration  float64
}

func NewSession(imsi string) *Session {
	return &Session{
		Imsi:      imsi,
		CreatedAt: time.Now(),
	}
}

func (s *Session) Delete() {
	s.Duration = time.Since(s.CreatedAt).Seconds()
}

// UsageSample is a reported traffic volume in one direction.
type UsageSample struct {
	Direction string
	Bytes     uint64
}

type InstrumentSessions interface {
	SaveMessages(m *Message)
	SaveSessions(s *Session)
	SaveUsage(u *UsageSample)
	Stop() error
}
