// Package dispatch is the single entry point for incoming events.
//
// Events that arrive before the worker reports ready are held in memory, in
// submission order. When the worker signals ready the pending queue is swapped
// out under the lock and replayed outside it, fire-and-forget. From then on
// events go straight to the worker.
//
// Guarantees:
//   - Each submitted event is handed to the worker at most once, and exactly
//     once unless the process dies or Shutdown discards it.
//   - Events queued before readiness are dispatched in submission order and
//     before any event submitted after readiness.
//   - The queue lock is never held across a worker round trip.
//
// Queued events are memory-resident only. Nothing is retried.
package dispatch
