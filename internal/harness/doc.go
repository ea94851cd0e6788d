// Package harness runs scripted sync sessions against a live engine.
//
// A scenario seeds an in-memory store, drives the engine through sign-in,
// attach, mutations and injected deliveries, and asserts on the final
// published list, the error slot and the stored documents. Remote writes
// can be parked (held) and released later, which is how a scenario places a
// stale delivery between an optimistic write and its acknowledgement.
//
// # Scenario Format
//
//	name: create_then_echo
//	description: "An optimistic create survives until the echo confirms it"
//	account: u1
//	steps:
//	  - do: sign_in
//	  - do: attach
//	  - do: create_project
//	    args: { id: p1, title: Launch }
//	    hold: true
//	    label: create
//	  - do: release
//	    label: create
//	assertions:
//	  - type: titles
//	    titles: [Launch]
//	  - type: remote
//	    project: p1
//	    expect: { title: Launch, ownerId: u1 }
//
// # Assertion Types
//
//   - titles: the published title list, in order
//   - state: subset of {account, synced, stalled, pending, projects}
//   - error: the error slot's code, or none
//   - remote: the stored document (subset match) or its absence
//   - project: the published project in document form (subset match)
//   - writes: the number of write attempts, optionally of one op
//
// # Deterministic Testing
//
// Every step is followed by a settle: the harness waits until each queued
// delivery has been handed to the engine and applied. CreatedAt stamps come
// from a testutil.WallClock that advances one second per stamp, and missing
// ids from a testutil.SequenceIDs seeded with the scenario's ids list, so a
// scenario produces the same trace on every run.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/create_then_echo.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range result.Errors {
//	    log.Println(e)
//	}
package harness
