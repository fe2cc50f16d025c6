// Package sinks contains Sink implementations consuming batched delivery
// events from the events Hub.
package sinks
