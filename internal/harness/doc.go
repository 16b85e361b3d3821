// Package harness runs import scenarios end to end against a real SQLite store.
//
// A scenario declares the store catalog, a run profile, one or more import runs
// and assertions on the final stored state. Each scenario runs in a fresh database
// with a fixed clock and fixed run tokens, so its reports are byte-identical across
// executions and can be compared against golden files.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	run_id: test-run            # run tokens become test-run-1, test-run-2, ...
//	setup:                      # catalog, same shape as `reconcile define`
//	  websites: [{id: 1, code: base, default_scope: 2}]
//	  scopes: [{id: 2, code: french, website: 1}]
//	  entity_types:
//	    - name: product
//	      key: sku
//	      attributes: [{code: color, backend: varchar}]
//	profile:                    # run profile, same shape as a YAML profile file
//	  entity_type: product
//	  element_key: sku
//	runs:
//	  - elements:
//	      - {sku: sku1, website: {id: 1}, color: red}
//	    expect: {changed: 1, created: 1}
//	assertions:
//	  - type: effective_value
//	    key: sku1
//	    scope: 2
//	    attribute: color
//	    value: red
//
// # Assertion Types
//
//   - effective_value: the value a reader at scope sees, with admin fallback
//   - stored_value: the row stored at exactly scope; absent: true asserts no row
//   - entity_count: the number of entities of the profile's entity type
//   - classification: the outcome of one element of one run, optionally with a reason
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/create.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
