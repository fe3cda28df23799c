// Package engine asks an external UCI chess engine for move suggestions.
//
// Each request starts a short-lived engine process (stockfish by default),
// sends "position fen <fen>" followed by "go depth <n>" and reads back the
// bestmove line. Requests run on a bounded ants pool and are always cut off
// by a timeout:
//
//   - ErrInvalidPosition: the FEN could not be parsed
//   - ErrEngineTimeout: no answer before the deadline; the process is killed
//   - ErrEngineUnavailable: binary missing, crashed, or the pool is saturated
//
// All three are recoverable and scoped to the single request.
package engine
