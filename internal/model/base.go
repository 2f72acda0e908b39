package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Actor identifies which party performed an operation.
type Actor string

const (
	ActorClient   Actor = "client"
	ActorProvider Actor = "provider"
	ActorSystem   Actor = "system"
)

func (a Actor) Valid() bool {
	switch a {
	case ActorClient, ActorProvider, ActorSystem:
		return true
	}
	return false
}
