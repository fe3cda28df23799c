// Package session holds the shared state of live chess games.
//
// The session package implements:
//   - Session: participants in join order plus an append-only move log
//   - Manager: a concurrency-safe registry from session id to Session
//   - Idle eviction of sessions nobody is subscribed to
//
// Core Types:
//
// Session owns its participants and moves behind a per-session mutex. Every
// mutation is linearized: two moves submitted at the same time are appended
// one after the other and never interleave. Join and Move accept a publish
// callback that runs while the lock is still held, which makes the order
// events are handed to the dispatcher identical to the order of the log.
//
// Manager creates sessions on first access (GetOrCreate) and never removes
// them implicitly. Lookups without creation (Get) return ErrSessionNotFound.
//
// Participants:
//
// The first two joiners take the white and black seats. Later joiners are
// still appended but stay unseated. A disconnect marks the participant
// inactive; the list is never compacted.
//
// Concurrency:
//
// Operations on different sessions never share a lock beyond the brief
// registry map access, so games proceed fully in parallel.
//
// Usage:
//
//	manager := session.NewManager()
//
//	sess, _, err := manager.GetOrCreate("g1")
//	if err != nil {
//		return err
//	}
//	sess.Join(connID, func(snap session.Snapshot) {
//		hub.Publish("g1", "gameState", snap)
//	})
package session
