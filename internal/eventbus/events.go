package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source имя сервиса-источника для всех событий движка.
const Source = "fauna"

// Типы доменных событий.
const (
	TypeHerdCreated       = "herd.created"
	TypeHerdLeaderElected = "herd.leader_elected"
	TypeHerdRemoved       = "herd.removed"
	TypeHerdPanic         = "herd.panic"
	TypeCreatureBorn      = "creature.born"
	TypeCreatureEnraged   = "creature.enraged"
)

// HerdEvent полезная нагрузка событий стада.
type HerdEvent struct {
	HerdID  string      `json:"herd_id"`
	Species string      `json:"species"`
	World   string      `json:"world"`
	Leader  string      `json:"leader,omitempty"`
	Members int         `json:"members"`
	Threat  *[3]float64 `json:"threat,omitempty"`
	Until   *time.Time  `json:"until,omitempty"`
}

// BornEvent рождение детёныша.
type BornEvent struct {
	Child         string `json:"child"`
	Mother        string `json:"mother"`
	Father        string `json:"father"`
	Species       string `json:"species"`
	Domestication int    `json:"domestication"`
}

// EnragedEvent мать вступилась за детёныша.
type EnragedEvent struct {
	Creature string `json:"creature"`
	Attacker string `json:"attacker"`
	Child    string `json:"child"`
}

// NewEnvelope упаковывает payload в JSON-конверт.
func NewEnvelope(eventType string, priority int, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    Source,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку конверта.
func Decode(ev *Envelope, out any) error {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	return nil
}
