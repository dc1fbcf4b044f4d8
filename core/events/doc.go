// Package events defines what the orchestrator reports to observers.
//
// Event kinds are grouped by namespace:
//
//   - presentation.*: the idle/thinking/speaking state and what is shown
//     with it.
//   - turn_state.*: lifecycle of a single turn.
//   - assistant_response.*: the generated answer.
//   - avatar.*: the outcome of avatar rendering.
//
// Events are delivered in the order the orchestrator produced them, from a
// single goroutine, so observers never see a later state before an earlier
// one.
package events
