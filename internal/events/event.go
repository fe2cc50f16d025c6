// Package events defines the delivery events emitted by the broadcaster.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported delivery stages.
const (
	StageBroadcastStart Stage = "BROADCAST_START"
	StageBroadcastDone  Stage = "BROADCAST_DONE"
	StagePostStart      Stage = "POST_START"
	StagePostDone       Stage = "POST_DONE"
	StagePostError      Stage = "POST_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for delivery outcomes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a broadcast delivery.
type Event struct {
	// BroadcastID identifies one broadcast using the 16-byte UUID form.
	BroadcastID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Target scopes post events to one platform name.
	Target string
	// StatusClass groups the HTTP outcome (2xx, 4xx, ...).
	StatusClass StatusClass
	// Dur captures execution latency for posts and completed broadcasts.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BroadcastID == [16]byte{} {
		return errors.New("broadcast id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBroadcastStart, StageBroadcastDone:
	case StagePostStart:
		if e.Target == "" {
			return errors.New("post start requires target")
		}
	case StagePostDone, StagePostError:
		if e.Target == "" {
			return errors.New("post completion requires target")
		}
		if e.StatusClass == "" {
			return errors.New("post completion requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// BroadcastUUID converts the binary broadcast ID to uuid.UUID.
func (e Event) BroadcastUUID() uuid.UUID {
	return uuid.UUID(e.BroadcastID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for delivery events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
